package observability

import (
	"chat-relay/domain"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	req := require.New(t)
	metrics := NewMetrics(prometheus.NewRegistry())

	// When the relay records a few outcomes
	metrics.Submitted("ok")
	metrics.Submitted("ok")
	metrics.Submitted("rejected")
	metrics.Pushed(nil)
	metrics.Pushed(errors.New("slow consumer"))
	metrics.RecordReplay(3)
	metrics.RecordTransitions(domain.StatusDelivered, 2)
	metrics.RecordTransitions(domain.StatusRead, 0)
	metrics.SetConnections(4)
	metrics.RecordCensored("en", 2)
	metrics.RecordCensored("", 1)
	metrics.ObserveSubmit(time.Now())

	// Then every collector reflects them
	req.Equal(2.0, testutil.ToFloat64(metrics.MessagesSubmitted.WithLabelValues("ok")))
	req.Equal(1.0, testutil.ToFloat64(metrics.MessagesSubmitted.WithLabelValues("rejected")))
	req.Equal(1.0, testutil.ToFloat64(metrics.PushesTotal.WithLabelValues("ok")))
	req.Equal(1.0, testutil.ToFloat64(metrics.PushesTotal.WithLabelValues("failed")))
	req.Equal(3.0, testutil.ToFloat64(metrics.Replayed))
	req.Equal(2.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("delivered")))
	req.Equal(4.0, testutil.ToFloat64(metrics.ActiveConnections))
	req.Equal(2.0, testutil.ToFloat64(metrics.CensoredWords.WithLabelValues("en")))
	req.Equal(1.0, testutil.ToFloat64(metrics.CensoredWords.WithLabelValues("unknown")))
	req.Equal(1, testutil.CollectAndCount(metrics.SubmitDuration))
}

func TestMetrics_Nil_Is_Noop(t *testing.T) {
	var metrics *Metrics
	require.NotPanics(t, func() {
		metrics.Submitted("ok")
		metrics.Pushed(nil)
		metrics.RecordReplay(1)
		metrics.RecordTransitions(domain.StatusRead, 1)
		metrics.SetConnections(1)
		metrics.SetProcess(1, 1, 1)
		metrics.SetQueueFill("lanes", 1, 2)
		metrics.RecordCensored("en", 1)
		metrics.ObserveSubmit(time.Now())
	})
}
