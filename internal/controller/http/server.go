package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/edwork/tutorhub/internal/service"
)

// Server HTTP/WebSocket контроллер. Токены сессий выпускает внешний
// провайдер авторизации — здесь они только проверяются.
type Server struct {
	chats         *service.ChatService
	inbox         *service.InboxService
	notifications *service.NotificationService
	assignments   *service.AssignmentService
	jwtSecret     []byte
	upgrader      websocket.Upgrader
	logger        *zap.Logger
}

func NewServer(
	chats *service.ChatService,
	inbox *service.InboxService,
	notifications *service.NotificationService,
	assignments *service.AssignmentService,
	jwtSecret string,
	logger *zap.Logger,
) *Server {
	return &Server{
		chats:         chats,
		inbox:         inbox,
		notifications: notifications,
		assignments:   assignments,
		jwtSecret:     []byte(jwtSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// Router собирает все маршруты
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/chats", s.handleCreateChat)
		r.Get("/chats", s.handleListChats)
		r.Get("/chats/{chatID}/messages", s.handleListMessages)
		r.Post("/chats/{chatID}/messages", s.handleSendMessage)
		r.Post("/chats/{chatID}/read", s.handleMarkChatRead)
		r.Post("/chats/{chatID}/hide", s.handleHideChat)
		r.Post("/chats/{chatID}/unhide", s.handleUnhideChat)

		r.With(s.requireAdmin).Post("/assignments", s.handleCreateAssignment)
		r.Get("/assignments", s.handleListAssignments)

		r.Get("/notifications/unread", s.handleListUnreadNotifications)
		r.Post("/notifications/{notificationID}/read", s.handleMarkNotificationRead)
	})

	r.Route("/ws", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/chats", s.handleWatchChats)
		r.Get("/notifications", s.handleWatchNotifications)
	})

	return r
}

// Claims полезная нагрузка токена сессии
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := s.parseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || claims.Role != "admin" {
			writeError(w, http.StatusForbidden, "admin_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) parseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func claimsFromContext(ctx context.Context) *Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*Claims)
	return claims
}

// bearerToken достаёт токен из заголовка Authorization или, для
// websocket-подключений из браузера, из query-параметра token
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// canAccessChat общий для хендлеров гард доступа к чату
func (s *Server) canAccessChat(r *http.Request, chatID string) (bool, error) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		return false, nil
	}
	if claims.Role == "admin" {
		return true, nil
	}

	ok, err := s.chats.CanAccess(r.Context(), chatID, claims.Subject)
	if err != nil || ok {
		return ok, err
	}
	if claims.Email != "" {
		return s.chats.CanAccess(r.Context(), chatID, strings.ToLower(claims.Email))
	}
	return false, nil
}
