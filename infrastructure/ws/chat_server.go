package ws

import (
	"chat-relay/auth"
	"chat-relay/services"
	"chat-relay/sink"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChatServer upgrades HTTP requests to chat connections.
type ChatServer struct {
	log             *slog.Logger
	chat            services.IChatService
	tokens          *auth.Tokens
	codec           Codec
	upgrader        websocket.Upgrader
	bufferSize      int
	deliveryTimeout time.Duration

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewChatServer builds the handler. A nil tokens disables authentication:
// connections are then trusted to announce their own user.
func NewChatServer(
	log *slog.Logger,
	chat services.IChatService,
	tokens *auth.Tokens,
	bufferSize int,
	deliveryTimeout time.Duration,
) *ChatServer {
	return &ChatServer{
		log:    log,
		chat:   chat,
		tokens: tokens,
		codec:  NewCodec(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		bufferSize:      bufferSize,
		deliveryTimeout: deliveryTimeout,
		sessions:        make(map[*session]struct{}),
	}
}

func (s *ChatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := s.tokens.Authenticate(r)
	if err != nil {
		s.log.Debug("Connection refused", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		s.log.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := &session{
		log:      s.log,
		chat:     s.chat,
		codec:    s.codec,
		conn:     conn,
		sink:     sink.NewConnectionSink(s.bufferSize, s.deliveryTimeout),
		authUser: userID,
	}
	s.track(sess)
	defer s.untrack(sess)

	s.log.Debug("Connection opened", "handle", sess.sink.ID(), "remote", r.RemoteAddr)
	sess.run(r.Context())
}

func (s *ChatServer) track(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
}

func (s *ChatServer) untrack(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// Backlog returns the fill of the fullest connection queue.
func (s *ChatServer) Backlog() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	length, capacity := 0, s.bufferSize
	for sess := range s.sessions {
		if l, _ := sess.sink.Backlog(); l > length {
			length = l
		}
	}
	return length, capacity
}

// CloseAll sends a going-away close frame to every open socket.
// Hijacked connections are not covered by http.Server.Shutdown.
func (s *ChatServer) CloseAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	for _, sess := range sessions {
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			deadline)
		_ = sess.conn.Close()
	}
}
