// Package negotiation carries live contract negotiation between a buyer and
// a farmer.
//
// Each contract has a room. Parties connect over WebSocket, receive offer
// and status events published by the contract engine after commit, and may
// exchange chat messages which are persisted and broadcast to the room.
// With Redis configured, events fan out across server instances.
package negotiation

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotParty      = errors.New("not a party to this contract")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrMessageTooBig = errors.New("message too long")
)

// MaxMessageLength bounds a chat message.
const MaxMessageLength = 2000

// EventType classifies a room event.
type EventType string

const (
	EventOffer     EventType = "offer"
	EventAccepted  EventType = "accepted"
	EventRejected  EventType = "rejected"
	EventCancelled EventType = "cancelled"
	EventCompleted EventType = "completed"
	EventMilestone EventType = "milestone"
	EventChat      EventType = "chat"
	EventError     EventType = "error"
)

// ChatRequest is a chat line sent by a client, over the socket or REST.
// The proposed fields float terms informally; they never change the
// contract.
type ChatRequest struct {
	Message          string `json:"message"`
	ProposedPrice    string `json:"proposedPrice,omitempty"`
	ProposedQuantity string `json:"proposedQuantity,omitempty"`
}

// Event is broadcast to every client in a contract's room.
type Event struct {
	Type         EventType `json:"type"`
	ContractID   string    `json:"contractId"`
	SenderID     string    `json:"senderId,omitempty"`
	SenderRole   string    `json:"senderRole,omitempty"`
	Quantity     string    `json:"quantity,omitempty"`
	PricePerUnit string    `json:"pricePerUnit,omitempty"`
	TotalValue   string    `json:"totalValue,omitempty"`
	Status       string    `json:"status,omitempty"`
	MilestoneID  string    `json:"milestoneId,omitempty"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Message is a persisted chat line in a contract room.
type Message struct {
	ID               string    `json:"id"`
	ContractID       string    `json:"contractId"`
	SenderID         string    `json:"senderId"`
	Message          string    `json:"message"`
	ProposedPrice    string    `json:"proposedPrice,omitempty"`
	ProposedQuantity string    `json:"proposedQuantity,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, contractID string, limit int) ([]*Message, error)
}

// Authorizer decides who may join a contract room.
type Authorizer interface {
	IsParty(ctx context.Context, contractID, userID string) (bool, error)
}
