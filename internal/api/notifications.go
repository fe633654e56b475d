package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// NotificationsPath is where the unread count socket is served.
const NotificationsPath = "/ws/notifications"

// CountMessage is pushed whenever the unread count changes.
type CountMessage struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// NotificationsSocket pushes unread notification counts over a websocket.
// Each connection owns one poller subscription, cancelled on disconnect.
type NotificationsSocket struct {
	logger   *zap.Logger
	parser   *auth.Parser
	poller   *notify.Poller
	upgrader websocket.Upgrader
}

// NewNotificationsSocket creates the socket handler. An empty allowedOrigins
// accepts any origin.
func NewNotificationsSocket(logger *zap.Logger, parser *auth.Parser, poller *notify.Poller, allowedOrigins []string) *NotificationsSocket {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &NotificationsSocket{
		logger: logger,
		parser: parser,
		poller: poller,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Handler mounts the socket on its own mux.
func (s *NotificationsSocket) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(NotificationsPath, s)
	return mux
}

// requestToken reads the session cookie, which browsers attach to the
// upgrade request, or a bearer header. Query-string tokens are not accepted
// so credentials stay out of access logs.
func requestToken(r *http.Request) string {
	var cookie string
	if ck, err := r.Cookie(AccessTokenCookie); err == nil {
		cookie = ck.Value
	}
	return auth.ExtractToken(cookie, r.Header.Get("Authorization"))
}

func (s *NotificationsSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cred, err := s.parser.Parse(requestToken(r))
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("notify.ws.upgrade_failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	log := s.logger.With(zap.String("subscription", id), zap.String("actor", cred.ActorKey()))
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	write := func(fn func() error) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := fn(); err != nil {
			log.Debug("notify.ws.write_failed", zap.Error(err))
			cancel()
		}
	}

	if !s.poller.Watch(ctx, id, cred, func(count int64) {
		write(func() error {
			return conn.WriteJSON(CountMessage{Type: "unread_count", Count: count})
		})
	}) {
		return
	}
	defer s.poller.Cancel(id)
	log.Info("notify.ws.connected")

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// unblocks the read loop
				_ = conn.Close()
				return
			case <-ticker.C:
				write(func() error { return conn.WriteMessage(websocket.PingMessage, nil) })
			}
		}
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	log.Info("notify.ws.disconnected")
}
