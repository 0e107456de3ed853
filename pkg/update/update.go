// HookClaw - Telegram webhook gateway
// License: MIT

// Package update defines the normalized inbound event stream. Every producer
// wraps what it receives in an Envelope whose Update names its kind, the
// entity it belongs to and the selectors used to pick a handler.
package update

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMalformedUpdate  = errors.New("malformed platform update")
	ErrNoEntity         = errors.New("update has no user or chat")
	ErrMissingParameter = errors.New("both user_id and payload are required")
	ErrNonNumericUserID = errors.New("user_id must be numeric")
)

// Kind tags an Update variant. It is the first half of a dispatch key.
type Kind string

const (
	KindPlatform Kind = "platform"
	KindCustom   Kind = "custom"
)

// Update is one inbound event. New event sources add a type implementing
// Update and a handler registration; the queue and dispatcher never look
// past this interface.
type Update interface {
	Kind() Kind
	// EntityID is the user or chat whose context the update is handled in.
	EntityID() int64
	// Selectors lists sub-keys from most to least specific.
	Selectors() []string
}

// Envelope is a queued Update. Seq is zero until the queue accepts it.
type Envelope struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`
	Update     Update    `json:"-"`
}

func NewEnvelope(u Update) Envelope {
	return Envelope{
		ID:         uuid.New().String(),
		ReceivedAt: time.Now(),
		Update:     u,
	}
}

func (e Envelope) Kind() Kind {
	if e.Update == nil {
		return ""
	}
	return e.Update.Kind()
}

func (e Envelope) EntityID() int64 {
	if e.Update == nil {
		return 0
	}
	return e.Update.EntityID()
}
