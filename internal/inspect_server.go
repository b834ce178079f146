package internal

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"time"
)

//go:embed inspect.html
var templatesFS embed.FS

const timeLayout = "2006-01-02 15:04:05"

// InspectRow is one status row rendered for an operator.
type InspectRow struct {
	Seq            string
	MessageID      string
	ConversationID string
	Sender         string
	Status         string
	CreatedAt      string
	DeliveredAt    string
	ReadAt         string
	Content        string
}

type RowSource interface {
	FindStatusRows(ctx context.Context, query contract.StatusQuery) ([]domain.StatusView, error)
}

type StatsProvider func() map[string]any

type PageData struct {
	UserID         string
	ConversationID string
	Items          []InspectRow
	Stats          map[string]any
	Error          string
}

// InspectHandler renders every status row of the user given in the query
// string, optionally narrowed to one conversation.
func InspectHandler(source RowSource, statsProvider StatsProvider) http.Handler {
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := PageData{
			UserID:         r.URL.Query().Get("user"),
			ConversationID: r.URL.Query().Get("conversation"),
			Stats:          make(map[string]any),
		}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		if data.UserID != "" {
			views, err := source.FindStatusRows(r.Context(), contract.StatusQuery{
				UserID:         domain.UserID(data.UserID),
				Statuses:       []domain.Status{domain.StatusSent, domain.StatusDelivered, domain.StatusRead},
				ConversationID: domain.ConversationID(data.ConversationID),
			})
			if err != nil {
				data.Error = err.Error()
			}
			for _, view := range views {
				data.Items = append(data.Items, ToInspectRow(view))
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})
}

func ToInspectRow(view domain.StatusView) InspectRow {
	return InspectRow{
		Seq:            strconv.FormatInt(view.Message.Seq, 10),
		MessageID:      view.Message.ID.String()[:8],
		ConversationID: string(view.Message.ConversationID),
		Sender:         view.Sender.Name,
		Status:         string(view.Row.Status),
		CreatedAt:      view.Message.CreatedAt.Format(timeLayout),
		DeliveredAt:    formatTime(view.Row.DeliveredAt),
		ReadAt:         formatTime(view.Row.ReadAt),
		Content:        view.Message.Content,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}
