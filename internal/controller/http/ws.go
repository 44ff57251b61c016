package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/edwork/tutorhub/internal/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second // чаще pongWait, иначе соединение умрёт раньше пинга
)

// wsMessage кадр, уходящий клиенту
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// handleWatchChats живой инбокс: полный список чатов при каждом изменении
func (s *Server) handleWatchChats(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	// буфер на одно значение, свежий снапшот вытесняет недоставленный:
	// клиенту нужен только последний
	updates := make(chan []*model.Conversation, 1)
	onUpdate := func(list []*model.Conversation) {
		select {
		case <-updates:
		default:
		}
		updates <- list
	}

	cancelWatch, err := s.inbox.WatchConversations(ctx, claims.Subject, claims.Email, onUpdate)
	if err != nil {
		s.logger.Error("Watch conversations failed", zap.Error(err))
		return
	}
	defer cancelWatch()

	s.startReadPump(conn, stop)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case list := <-updates:
			if err := s.writeFrame(conn, wsMessage{Type: "conversations", Data: list}); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.writePing(conn); err != nil {
				return
			}
		case <-ctx.Done():
			s.writeClose(conn)
			return
		}
	}
}

// handleWatchNotifications живая лента непрочитанных уведомлений
func (s *Server) handleWatchNotifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	updates := make(chan []*model.Notification, 1)
	onUpdate := func(list []*model.Notification) {
		select {
		case <-updates:
		default:
		}
		updates <- list
	}

	cancelWatch, err := s.notifications.WatchUnread(ctx, claims.Subject, onUpdate)
	if err != nil {
		s.logger.Error("Watch notifications failed", zap.Error(err))
		return
	}
	defer cancelWatch()

	s.startReadPump(conn, stop)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case list := <-updates:
			if err := s.writeFrame(conn, wsMessage{Type: "notifications", Data: list}); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.writePing(conn); err != nil {
				return
			}
		case <-ctx.Done():
			s.writeClose(conn)
			return
		}
	}
}

// startReadPump читает управляющие кадры: клиент ничего осмысленного не
// шлёт, но разрыв соединения виден только из чтения
func (s *Server) startReadPump(conn *websocket.Conn, stop context.CancelFunc) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeFrame(conn *websocket.Conn, frame wsMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(frame)
}

func (s *Server) writePing(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *Server) writeClose(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
