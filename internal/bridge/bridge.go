package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/versatilecz/evac/internal/broker"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/message"
	"github.com/versatilecz/evac/internal/models"
)

// Publisher sends a payload to a topic
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Presence caches where devices are
type Presence interface {
	Set(ctx context.Context, a models.Activity) error
	Delete(ctx context.Context, device uuid.UUID) error
}

// Republished are the kinds sent to the publisher
var Republished = map[message.Kind]bool{
	message.KindActivity:     true,
	message.Event.Detail():   true,
	message.KindAlarmTrigger: true,
	message.KindAlarmStop:    true,
}

// Bridge forwards broadcasts. Either side may be nil.
type Bridge struct {
	publisher Publisher
	presence  Presence
	baseTopic string
	log       *logrus.Entry
}

// New creates a bridge
func New(publisher Publisher, presence Presence, baseTopic string) *Bridge {
	if baseTopic == "" {
		baseTopic = "evac"
	}
	return &Bridge{
		publisher: publisher,
		presence:  presence,
		baseTopic: strings.TrimRight(baseTopic, "/"),
		log:       logging.Component("bridge"),
	}
}

// Topic is the topic a kind is published to
func (b *Bridge) Topic(kind message.Kind) string {
	return b.baseTopic + "/" + string(kind)
}

// Run forwards messages until ctx is done or the subscription closes
func (b *Bridge) Run(ctx context.Context, sub *broker.Subscription[message.WebMessage]) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-sub.C():
			if !ok {
				return nil
			}
			b.Forward(ctx, m)
		}
	}
}

// Forward handles one broadcast
func (b *Bridge) Forward(ctx context.Context, m message.WebMessage) {
	if b.publisher != nil && Republished[m.Kind] {
		payload, err := json.Marshal(m.Payload)
		if err != nil {
			b.log.WithError(err).WithField("kind", m.Kind).Error("Failed to encode broadcast")
		} else if err := b.publisher.Publish(b.Topic(m.Kind), payload); err != nil {
			b.log.WithError(err).WithField("kind", m.Kind).Warn("Failed to publish broadcast")
		}
	}

	if b.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	switch m.Kind {
	case message.KindActivity:
		if a, ok := m.Payload.(models.Activity); ok {
			if err := b.presence.Set(ctx, a); err != nil {
				b.log.WithError(err).Warn("Failed to cache presence")
			}
		}
	case message.Device.Removed():
		if id, ok := m.Payload.(uuid.UUID); ok {
			if err := b.presence.Delete(ctx, id); err != nil {
				b.log.WithError(err).Warn("Failed to drop presence")
			}
		}
	}
}
