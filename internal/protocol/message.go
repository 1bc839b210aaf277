package protocol

import (
	"time"

	"github.com/efreitasn/marketbroker/internal/domain"
)

// MessageType identifies the kind of a wire message.
type MessageType string

const (
	TypeRegister             MessageType = "REGISTER"
	TypeAck                  MessageType = "ACK"
	TypeSaleStart            MessageType = "SALE_START"
	TypeSaleEnd              MessageType = "SALE_END"
	TypeBuyRequest           MessageType = "BUY_REQUEST"
	TypeBuyResponse          MessageType = "BUY_RESPONSE"
	TypeListItems            MessageType = "LIST_ITEMS"
	TypeStockUpdate          MessageType = "STOCK_UPDATE"
	TypeError                MessageType = "ERROR"
	TypeHeartbeat            MessageType = "HEARTBEAT"
	TypePurchaseNotification MessageType = "PURCHASE_NOTIFICATION"
)

// Known reports whether t is one of the defined message types.
func (t MessageType) Known() bool {
	switch t {
	case TypeRegister, TypeAck, TypeSaleStart, TypeSaleEnd, TypeBuyRequest,
		TypeBuyResponse, TypeListItems, TypeStockUpdate, TypeError,
		TypeHeartbeat, TypePurchaseNotification:
		return true
	}
	return false
}

// Sender IDs used before registration and for broker-originated messages.
const (
	SenderUnregistered = "unregistered"
	SenderServer       = "server"
)

// Client roles carried in the REGISTER payload.
const (
	RoleBuyer  = "BUYER"
	RoleSeller = "SELLER"
)

// Message is the wire envelope. Data carries the type-specific payload as a
// key-value map; Timestamp is the sender's wall clock in milliseconds.
type Message struct {
	Type      MessageType    `json:"type"`
	Data      map[string]any `json:"data"`
	SenderID  string         `json:"senderId"`
	Timestamp int64          `json:"timestamp"`
}

// NewMessage builds a message stamped with the current wall clock.
func NewMessage(t MessageType, data map[string]any, senderID string) *Message {
	return &Message{
		Type:      t,
		Data:      data,
		SenderID:  senderID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// String returns the string payload field at key, or "" if absent or not a
// string.
func (m *Message) String(key string) string {
	v, _ := m.Data[key].(string)
	return v
}

// Float returns the numeric payload field at key. JSON numbers decode to
// float64, so this covers every quantity on the wire.
func (m *Message) Float(key string) (float64, bool) {
	v, ok := m.Data[key].(float64)
	return v, ok
}

// Bool returns the boolean payload field at key.
func (m *Message) Bool(key string) bool {
	v, _ := m.Data[key].(bool)
	return v
}

// ItemPayload is the wire form of a sale snapshot.
type ItemPayload struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Quantity      float64 `json:"quantity"`
	SellerID      string  `json:"sellerId"`
	RemainingTime int64   `json:"remainingTime"` // milliseconds
}

// ItemFromSnapshot converts a sale snapshot to its wire form.
func ItemFromSnapshot(s domain.SaleSnapshot) ItemPayload {
	return ItemPayload{
		ID:            s.ID,
		Name:          string(s.Name),
		Quantity:      domain.QuantityToFloat(s.Quantity),
		SellerID:      s.SellerID,
		RemainingTime: s.RemainingTime.Milliseconds(),
	}
}

// ItemsPayload converts a snapshot list for the "items" payload key. It
// always returns a non-nil slice so the wire carries [] rather than null.
func ItemsPayload(snaps []domain.SaleSnapshot) []ItemPayload {
	items := make([]ItemPayload, 0, len(snaps))
	for _, s := range snaps {
		items = append(items, ItemFromSnapshot(s))
	}
	return items
}
