// HookClaw - Telegram webhook gateway
// License: MIT

package bus

import (
	"context"

	"github.com/zhaopengme/hookclaw/pkg/update"
)

type Publisher interface {
	Publish(update.Envelope) (update.Envelope, error)
}

type Subscriber interface {
	Consume(context.Context) (update.Envelope, bool)
}

type Broker interface {
	Publisher
	Subscriber
	Len() int
	Close()
}

var _ Broker = (*UpdateQueue)(nil)
