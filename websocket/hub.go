package websocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Define notification types
const (
	NotificationTypeConnected     = "connected"
	NotificationTypeIntentUpdated = "payment_intent_updated"
	NotificationTypePayoutPaid    = "payout_paid"
	NotificationTypePayoutBatch   = "payout_batch_finished"
)

// Notification represents a message sent over WebSocket
type Notification struct {
	Type     string      `json:"type"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data,omitempty"`
	MemberID string      `json:"memberId,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	MemberID primitive.ObjectID
	Operator bool
	Conn     *websocket.Conn

	writeMu sync.Mutex
}

// WriteJSON serializes writes; the connection allows one writer at a time
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

// Hub maintains the set of active clients and pushes payment and payout events
type Hub struct {
	clients    map[primitive.ObjectID]map[*Client]bool
	operators  map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[primitive.ObjectID]map[*Client]bool),
		operators:  make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logging.Named(logger, "websocket"),
	}
}

// Run starts the hub's event loop until ctx is done. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			if client.Operator {
				h.operators[client] = true
			} else {
				if h.clients[client.MemberID] == nil {
					h.clients[client.MemberID] = make(map[*Client]bool)
				}
				h.clients[client.MemberID][client] = true
			}
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if client.Operator {
				delete(h.operators, client)
			} else if conns, ok := h.clients[client.MemberID]; ok {
				delete(conns, client)
				if len(conns) == 0 {
					delete(h.clients, client.MemberID)
				}
			}
			client.Conn.Close()
			h.mu.Unlock()
		}
	}
}

// Register hands a client to the running hub. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister drops a client; after shutdown the connection is already closed
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.clients {
		for client := range conns {
			client.Conn.Close()
		}
	}
	for client := range h.operators {
		client.Conn.Close()
	}
	h.clients = make(map[primitive.ObjectID]map[*Client]bool)
	h.operators = make(map[*Client]bool)
}

// SendToMember sends a message to every connection of a member
func (h *Hub) SendToMember(memberID primitive.ObjectID, notification Notification) error {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients[memberID]))
	for client := range h.clients[memberID] {
		conns = append(conns, client)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("member not connected")
	}
	var lastErr error
	for _, client := range conns {
		if err := client.WriteJSON(notification); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// BroadcastToOperators sends a message to every connected operator
func (h *Hub) BroadcastToOperators(notification Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.operators {
		if err := client.WriteJSON(notification); err != nil {
			h.logger.Debug("operator write failed", zap.Error(err))
		}
	}
}

// IntentUpdated pushes intent state changes to the paying member and the operators
func (h *Hub) IntentUpdated(ctx context.Context, intent *models.PaymentIntent, previous models.IntentStatus) {
	notification := Notification{
		Type:     NotificationTypeIntentUpdated,
		Message:  fmt.Sprintf("Payment %s", intent.Status),
		Data:     intent,
		MemberID: intent.MemberID.Hex(),
	}
	if err := h.SendToMember(intent.MemberID, notification); err != nil {
		h.logger.Debug("intent update not delivered", zap.String("member_id", intent.MemberID.Hex()), zap.Error(err))
	}
	h.BroadcastToOperators(notification)
}

// PayoutPaid tells a connected referrer that a commission was paid
func (h *Hub) PayoutPaid(ctx context.Context, record *models.CommissionRecord) {
	notification := Notification{
		Type:     NotificationTypePayoutPaid,
		Message:  "Your commission has been paid",
		Data:     record,
		MemberID: record.ReferrerID.Hex(),
	}
	if err := h.SendToMember(record.ReferrerID, notification); err != nil {
		h.logger.Debug("payout notice not delivered", zap.String("member_id", record.ReferrerID.Hex()), zap.Error(err))
	}
}

// PayoutBatchFinished pushes the batch report to the operators
func (h *Hub) PayoutBatchFinished(ctx context.Context, report *models.PayoutBatchReport) {
	h.BroadcastToOperators(Notification{
		Type:    NotificationTypePayoutBatch,
		Message: fmt.Sprintf("Payout batch %s finished: %d paid, %d failed", report.Period, report.Summary.Succeeded, report.Summary.Failed),
		Data:    report.Summary,
	})
}
