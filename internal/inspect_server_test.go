package internal

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/mocks"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestInspectHandler_Renders_Rows_Of_User(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockGateway(ctrl)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var query contract.StatusQuery
	gateway.EXPECT().
		FindStatusRows(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, q contract.StatusQuery) ([]domain.StatusView, error) {
			query = q
			return []domain.StatusView{{
				Row:     domain.StatusRow{ID: uuid.New(), UserID: "bob", Status: domain.StatusDelivered, DeliveredAt: &now},
				Message: domain.Message{ID: uuid.New(), ConversationID: "c1", SenderID: "alice", Content: "hello bob", CreatedAt: now, Seq: 7},
				Sender:  domain.User{ID: "alice", Name: "Alice"},
			}}, nil
		})

	handler := InspectHandler(gateway, func() map[string]any { return map[string]any{"Mode": "read-only"} })
	recorder := httptest.NewRecorder()

	// When the page of bob is requested
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/inspect?user=bob&conversation=c1", nil))

	// Then every status of bob in c1 is queried
	req.Equal(domain.UserID("bob"), query.UserID)
	req.Equal(domain.ConversationID("c1"), query.ConversationID)
	req.Len(query.Statuses, 3)

	// And the row is rendered
	req.Equal(http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	req.Contains(body, "hello bob")
	req.Contains(body, "Alice")
	req.Contains(body, `class="delivered"`)
	req.Contains(body, "read-only")
}

func TestInspectHandler_Without_User_Queries_Nothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockGateway(ctrl)
	recorder := httptest.NewRecorder()

	InspectHandler(gateway, nil).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/inspect", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
}
