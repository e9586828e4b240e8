package model

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery channel of a notification.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Channels returns all supported channel values.
func Channels() []Channel {
	return []Channel{ChannelSMS, ChannelEmail, ChannelPush}
}

// IsValid reports whether c is a known channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPush:
		return true
	}
	return false
}

// MaxContentLen returns the maximum allowed content length for the channel.
func (c Channel) MaxContentLen() int {
	switch c {
	case ChannelSMS:
		return 1600
	case ChannelEmail:
		return 10000
	case ChannelPush:
		return 256
	}
	return 0
}

// Priority determines which dispatch queue partition handles a notification.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Status is the lifecycle state of a notification.
//
// Transitions: pending -> processing -> sent|failed, pending -> cancelled.
// Terminal statuses never transition again.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanCancel reports whether a notification in status s may be cancelled.
func (s Status) CanCancel() bool {
	return s == StatusPending
}

// Notification represents a notification entity in the system.
type Notification struct {
	ID                uuid.UUID  `json:"id"`                            // client-facing identifier
	BatchID           *uuid.UUID `json:"batch_id,omitempty"`            // shared by notifications created in one batch call
	Recipient         string     `json:"recipient"`                     // phone number, email address or device token
	Channel           Channel    `json:"channel"`                       // sms, email or push
	Content           string     `json:"content"`                       // message body, length bounded per channel
	Priority          Priority   `json:"priority"`                      // dispatch queue partition
	Status            Status     `json:"status"`                        // current lifecycle state
	IdempotencyKey    string     `json:"idempotency_key,omitempty"`     // unique across the store when present
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`        // optional future activation time
	SentAt            *time.Time `json:"sent_at,omitempty"`             // set only on successful delivery
	ProviderMessageID string     `json:"provider_message_id,omitempty"` // opaque id returned by the provider
	RetryCount        int        `json:"retry_count"`                   // failed delivery attempts so far
	TraceID           string     `json:"trace_id,omitempty"`            // correlation token
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
