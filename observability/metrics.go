package observability

import (
	"chat-relay/domain"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the relay counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	MessagesSubmitted *prometheus.CounterVec
	PushesTotal       *prometheus.CounterVec
	Replayed          prometheus.Counter
	Transitions       *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	SubmitDuration    prometheus.Histogram
	ProcessRSS        prometheus.Gauge
	ProcessCPU        prometheus.Gauge
	Lanes             prometheus.Gauge
	QueueFill         *prometheus.GaugeVec
	CensoredWords     *prometheus.CounterVec
}

// NewMetrics registers every collector on reg.
// Tests pass their own prometheus.NewRegistry() to stay isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_messages_submitted_total",
			Help: "Messages submitted, by outcome (ok, rejected, failed)",
		}, []string{"outcome"}),
		PushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_pushes_total",
			Help: "Events pushed to connections, by result",
		}, []string{"result"}),
		Replayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_replayed_messages_total",
			Help: "Messages delivered through reconnection replay",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_status_transitions_total",
			Help: "Status rows advanced, by target status",
		}, []string{"status"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_active_connections",
			Help: "Users with a live connection",
		}),
		SubmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_relay_submit_duration_seconds",
			Help:    "Time spent persisting and fanning out one message",
			Buckets: prometheus.DefBuckets,
		}),
		ProcessRSS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_process_rss_bytes",
			Help: "Resident memory of the relay process",
		}),
		ProcessCPU: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_process_cpu_percent",
			Help: "CPU usage of the relay process",
		}),
		Lanes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_conversation_lanes",
			Help: "Conversations with a live serial lane",
		}),
		QueueFill: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_relay_queue_fill_ratio",
			Help: "Fill ratio of the fullest queue of each kind",
		}, []string{"queue"}),
		CensoredWords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_censored_words_total",
			Help: "Dictionary words masked in stored messages, by detected language",
		}, []string{"lang"}),
	}
}

func (m *Metrics) Submitted(outcome string) {
	if m == nil {
		return
	}
	m.MessagesSubmitted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Pushed(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PushesTotal.WithLabelValues("failed").Inc()
		return
	}
	m.PushesTotal.WithLabelValues("ok").Inc()
}

func (m *Metrics) RecordReplay(count int) {
	if m == nil {
		return
	}
	m.Replayed.Add(float64(count))
}

func (m *Metrics) RecordTransitions(status domain.Status, count int) {
	if m == nil || count == 0 {
		return
	}
	m.Transitions.WithLabelValues(string(status)).Add(float64(count))
}

// RecordCensored counts masked words. An undetected language is labelled "unknown".
func (m *Metrics) RecordCensored(lang string, count int) {
	if m == nil || count == 0 {
		return
	}
	if lang == "" {
		lang = "unknown"
	}
	m.CensoredWords.WithLabelValues(lang).Add(float64(count))
}

func (m *Metrics) ObserveSubmit(start time.Time) {
	if m == nil {
		return
	}
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(n))
}

func (m *Metrics) SetProcess(rss uint64, cpu float64, lanes int) {
	if m == nil {
		return
	}
	m.ProcessRSS.Set(float64(rss))
	m.ProcessCPU.Set(cpu)
	m.Lanes.Set(float64(lanes))
}

func (m *Metrics) SetQueueFill(queue string, length, capacity int) {
	if m == nil {
		return
	}
	ratio := 0.0
	if capacity > 0 {
		ratio = float64(length) / float64(capacity)
	}
	m.QueueFill.WithLabelValues(queue).Set(ratio)
}
