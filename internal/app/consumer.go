package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/solcustody/vault-mirror-service/internal/domain"
)

// ReconcileRetryConsumer re-applies transition events that were observed
// before their vault's initialize. Messages are nacked back onto the queue
// while the vault is still missing, so the broker redelivers until the
// initialize lands.
type ReconcileRetryConsumer struct {
	service *Service
}

func NewReconcileRetryConsumer(service *Service) *ReconcileRetryConsumer {
	return &ReconcileRetryConsumer{service: service}
}

// HandleMessage processes one queued transition event. Returning false nacks
// the delivery for requeue.
func (c *ReconcileRetryConsumer) HandleMessage(body []byte) bool {
	var event domain.TransitionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=retry_consumer outcome=drop reason=invalid_json err=%v", err)
		return true
	}
	if event.Signature == "" || event.Owner == "" {
		log.Printf("level=warn component=retry_consumer outcome=drop reason=incomplete_event type=%s", event.Type)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := c.service.ApplyEvent(ctx, &event)
	switch {
	case err == nil:
		return true
	case IsRetriable(err):
		log.Printf("level=info component=retry_consumer outcome=requeue owner=%s signature=%s reason=vault_not_mirrored",
			event.Owner, event.Signature)
		return false
	case IsAnomaly(err):
		log.Printf("level=error component=retry_consumer outcome=anomaly owner=%s signature=%s type=%s err=%v",
			event.Owner, event.Signature, event.Type, err)
		return true
	default:
		log.Printf("level=error component=retry_consumer outcome=requeue owner=%s signature=%s err=%v",
			event.Owner, event.Signature, err)
		return false
	}
}
