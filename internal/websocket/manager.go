package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Vishnu2508307/Test-sub032/internal/domain"
)

// MessageHandler consumes one decoded protocol message from a client.
type MessageHandler interface {
	HandleMessage(client *Client, msg *domain.Message) error
}

// DisconnectHandler is invoked after a client is unregistered so the
// sync engine can release the sessions bound to the dead channel.
type DisconnectHandler interface {
	ReleaseChannel(channelID string)
}

// Manager owns the live connections of one server process: it
// registers and unregisters clients and enforces the per-user
// connection cap. Protocol messages never pass through the run loop;
// each connection's DispatchPump hands them to the handler so one
// entity's slow cycle cannot stall another connection.
type Manager struct {
	clients        map[string]*Client
	userIndex      map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	maxConnPerUser int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration

	messageHandler    MessageHandler
	disconnectHandler DisconnectHandler
}

func NewManager(maxConnPerUser int, maxMessageSize int64, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		userIndex:      make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		maxConnPerUser: maxConnPerUser,
		maxMessageSize: maxMessageSize,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

func (m *Manager) SetDisconnectHandler(handler DisconnectHandler) {
	m.disconnectHandler = handler
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.userID] == nil {
		m.userIndex[client.userID] = make(map[string]bool)
	}

	if len(m.userIndex[client.userID]) >= m.maxConnPerUser {
		log.Printf("max connections reached for user %s", client.userID)
		client.closeSend()
		return
	}

	m.clients[client.id] = client
	m.userIndex[client.userID][client.id] = true

	log.Printf("client registered: %s (user: %s, client: %s)", client.id, client.userID, client.clientID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	_, ok := m.clients[client.id]
	if ok {
		delete(m.clients, client.id)
		delete(m.userIndex[client.userID], client.id)

		if len(m.userIndex[client.userID]) == 0 {
			delete(m.userIndex, client.userID)
		}

		client.closeSend()
	}
	m.clientsMutex.Unlock()

	if ok {
		// Sessions detach but their shadows persist for resume.
		if m.disconnectHandler != nil {
			m.disconnectHandler.ReleaseChannel(client.id)
		}
		log.Printf("client unregistered: %s", client.id)
	}
}

// processMessage decodes and dispatches one raw frame. Runs on the
// owning client's DispatchPump goroutine.
func (m *Manager) processMessage(client *Client, raw []byte) {
	var msg domain.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("error unmarshaling message: %v", err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleMessage(client, &msg); err != nil {
			log.Printf("error handling %s message: %v", msg.Type, err)
		}
	}
}

func (m *Manager) ConnectionCount(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.userIndex[userID]; exists {
		return len(clients)
	}
	return 0
}
