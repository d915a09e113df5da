package handler

import (
	"log"
	"net/http"

	"github.com/Vishnu2508307/Test-sub032/internal/middleware"
	"github.com/Vishnu2508307/Test-sub032/internal/websocket"
	"github.com/Vishnu2508307/Test-sub032/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, jwtSecret string, readBufferSize, writeBufferSize int) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = middleware.BearerToken(r)
	}

	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		log.Printf("[WebSocket] Token validation failed: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	userID := claims.UserID

	// client_id is the durable sync identity; two tabs of one browser
	// send distinct ids and get independent shadows.
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	log.Printf("[WebSocket] Connection upgraded for user %s (client %s)", userID, clientID)

	connectionID := uuid.New().String()
	client := websocket.NewClient(connectionID, userID, clientID, conn, h.manager)

	h.manager.Register <- client

	go client.WritePump()
	go client.DispatchPump()
	go client.ReadPump()
}
