package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"topup-backend/internal/metrics"
	"topup-backend/internal/models"
	"topup-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocket Upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// local UI; the route is behind JWT auth
		return true
	},
}

// Connection one websocket client
type Connection struct {
	ID          string          `json:"id"`
	UserAddress string          `json:"user_address"`
	Conn        *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	LastPing    time.Time       `json:"last_ping"`
}

// PushMessage envelope of every pushed message
type PushMessage struct {
	Type        string      `json:"type"`
	Timestamp   string      `json:"timestamp"`
	MessageID   string      `json:"message_id"`
	UserAddress string      `json:"user_address"`
	Data        interface{} `json:"data"`
}

// DepositUpdateData payload of a deposit_update message
type DepositUpdateData struct {
	models.DepositPhaseEvent
	UserMessage string `json:"user_message"`
	Progress    int    `json:"progress"`
}

var depositPhaseMessages = map[models.DepositPhase]struct {
	Message  string
	Progress int
}{
	models.DepositPhasePending:   {"💰 Preparing your top-up...", 10},
	models.DepositPhaseSubmitted: {"📤 Transfer submitted, waiting for the chain...", 40},
	models.DepositPhaseConfirmed: {"⏳ Transfer confirmed, crediting your balance...", 75},
	models.DepositPhaseRecorded:  {"🎉 Top-up complete, balance credited", 100},
	models.DepositPhaseFailed:    {"❌ Top-up failed", 0},
}

// WebSocketPushService fans deposit updates out to the account's websocket clients
type WebSocketPushService struct {
	connections map[string]*Connection   // key: connectionID
	userConns   map[string][]*Connection // key: address key
	hub         chan PushMessage
	register    chan *Connection
	unregister  chan *Connection
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	logger      *logrus.Logger
}

// NewWebSocketPushService creates the service and starts its hub goroutine
func NewWebSocketPushService(logger *logrus.Logger) *WebSocketPushService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	service := &WebSocketPushService{
		connections: make(map[string]*Connection),
		userConns:   make(map[string][]*Connection),
		hub:         make(chan PushMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		logger:      logger,
	}

	go service.run()
	return service
}

func (s *WebSocketPushService) run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)

		case conn := <-s.unregister:
			s.handleUnregister(conn)

		case message := <-s.hub:
			s.handleBroadcast(message)

		case <-s.done:
			s.mutex.Lock()
			for _, conn := range s.connections {
				s.closeConnection(conn)
			}
			s.connections = make(map[string]*Connection)
			s.userConns = make(map[string][]*Connection)
			s.mutex.Unlock()
			metrics.WebSocketClients.Set(0)
			return
		}
	}
}

// RegisterConnection adds a connection to the hub
func (s *WebSocketPushService) RegisterConnection(conn *Connection) {
	select {
	case s.register <- conn:
	case <-s.done:
	}
}

// UnregisterConnection removes a connection from the hub and closes it
func (s *WebSocketPushService) UnregisterConnection(conn *Connection) {
	select {
	case s.unregister <- conn:
	case <-s.done:
	}
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := utils.AddressKey(conn.UserAddress)
	s.connections[conn.ID] = conn
	s.userConns[key] = append(s.userConns[key], conn)
	metrics.WebSocketClients.Set(float64(len(s.connections)))

	s.logger.WithFields(logrus.Fields{"user": conn.UserAddress, "conn_id": conn.ID}).Info("📱 WebSocket connection registered")

	if conn.Send != nil {
		s.sendToConnection(conn, PushMessage{
			Type:        "connection_established",
			Timestamp:   time.Now().Format(time.RFC3339),
			MessageID:   uuid.New().String(),
			UserAddress: conn.UserAddress,
			Data: map[string]interface{}{
				"user_address":  conn.UserAddress,
				"connection_id": conn.ID,
				"message":       "Real-time top-up updates connected",
			},
		})
	}
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.connections[conn.ID]; !ok {
		return
	}
	delete(s.connections, conn.ID)

	key := utils.AddressKey(conn.UserAddress)
	if userConns, exists := s.userConns[key]; exists {
		for i, c := range userConns {
			if c.ID == conn.ID {
				s.userConns[key] = append(userConns[:i], userConns[i+1:]...)
				break
			}
		}
		if len(s.userConns[key]) == 0 {
			delete(s.userConns, key)
		}
	}
	s.closeConnection(conn)
	metrics.WebSocketClients.Set(float64(len(s.connections)))

	s.logger.WithFields(logrus.Fields{"user": conn.UserAddress, "conn_id": conn.ID}).Info("📱 WebSocket connection unregistered")
}

func (s *WebSocketPushService) closeConnection(conn *Connection) {
	if conn.Send != nil {
		close(conn.Send)
	}
	if conn.Conn != nil {
		conn.Conn.Close()
	}
}

func (s *WebSocketPushService) handleBroadcast(message PushMessage) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	userConns, exists := s.userConns[utils.AddressKey(message.UserAddress)]
	if !exists {
		s.logger.WithField("user", message.UserAddress).Debug("📭 No connections for user")
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		s.logger.WithError(err).Error("❌ Failed to marshal push message")
		return
	}

	sent, dropped := 0, 0
	for _, conn := range userConns {
		select {
		case conn.Send <- data:
			sent++
		default:
			dropped++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"type":    message.Type,
		"user":    message.UserAddress,
		"sent":    sent,
		"dropped": dropped,
	}).Debug("📤 Push message delivered")
}

func (s *WebSocketPushService) sendToConnection(conn *Connection, message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case conn.Send <- data:
	default:
		s.logger.WithField("conn_id", conn.ID).Warn("⚠️ Send buffer full, message dropped")
	}
}

// PublishDepositPhase queues a deposit_update for the deposit's account
func (s *WebSocketPushService) PublishDepositPhase(ctx context.Context, event models.DepositPhaseEvent) error {
	info := depositPhaseMessages[event.Phase]
	message := PushMessage{
		Type:        "deposit_update",
		Timestamp:   event.Timestamp.Format(time.RFC3339),
		MessageID:   event.EventID,
		UserAddress: event.Account,
		Data: DepositUpdateData{
			DepositPhaseEvent: event,
			UserMessage:       info.Message,
			Progress:          info.Progress,
		},
	}
	select {
	case s.hub <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// PushBalance sends a balance_update to the account's clients
func (s *WebSocketPushService) PushBalance(bal models.Balance) {
	message := PushMessage{
		Type:        "balance_update",
		Timestamp:   time.Now().Format(time.RFC3339),
		MessageID:   uuid.New().String(),
		UserAddress: bal.Account,
		Data:        bal,
	}
	select {
	case s.hub <- message:
	case <-s.done:
	}
}

// HandleWebSocket upgrades the request and serves the connection
func (s *WebSocketPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, userAddress string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("❌ WebSocket upgrade failed")
		return
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserAddress: utils.NormalizeAddress(userAddress),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		LastPing:    time.Now(),
	}

	s.RegisterConnection(connection)

	go s.handleConnectionWrite(connection)
	go s.handleConnectionRead(connection)
}

func (s *WebSocketPushService) handleConnectionWrite(conn *Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.WithError(err).Debug("❌ Write message failed")
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketPushService) handleConnectionRead(conn *Connection) {
	defer s.UnregisterConnection(conn)

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.LastPing = time.Now()
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WithError(err).Warn("❌ WebSocket read error")
			}
			return
		}
	}
}

// GetActiveConnections number of registered connections
func (s *WebSocketPushService) GetActiveConnections() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}

// GetUserConnections number of connections for one address
func (s *WebSocketPushService) GetUserConnections(userAddress string) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.userConns[utils.AddressKey(userAddress)])
}

// Close stops the hub and closes every connection
func (s *WebSocketPushService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
