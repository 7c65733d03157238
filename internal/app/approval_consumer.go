package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/transaction-service/internal/domain"
	"github.com/harborbank/transaction-service/internal/store"
)

// ApprovalDecisionConsumer funnels approval decisions arriving over AMQP
// (branch-operations tooling) into the same ApproveOrReject path as the HTTP
// endpoint, so the pending-state guarantees hold regardless of channel.
type ApprovalDecisionConsumer struct {
	service *Service
}

// NewApprovalDecisionConsumer creates a consumer bound to the ledger engine.
func NewApprovalDecisionConsumer(service *Service) *ApprovalDecisionConsumer {
	return &ApprovalDecisionConsumer{service: service}
}

// HandleMessage processes one approval decision event. It returns true to ack
// the delivery; malformed or replayed events are acked so they cannot wedge
// the queue, while transient processing errors requeue.
func (c *ApprovalDecisionConsumer) HandleMessage(body []byte) bool {
	var event domain.ApprovalDecisionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=approval_consumer msg=\"unmarshal failed; dropping\" err=%v", err)
		return true
	}
	if event.TransactionID == uuid.Nil || event.ApproverID == "" {
		log.Printf("level=warn component=approval_consumer msg=\"incomplete decision event; dropping\" transaction_id=%s", event.TransactionID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return c.processEvent(ctx, event)
}

func (c *ApprovalDecisionConsumer) processEvent(ctx context.Context, event domain.ApprovalDecisionEvent) bool {
	_, err := c.service.ApproveOrReject(ctx, event.TransactionID, event.ApproverID, event.ApproverRole, event.Approve, event.Remarks)
	if err == nil {
		return true
	}

	switch {
	case errors.Is(err, store.ErrTransactionNotFound):
		log.Printf("level=warn component=approval_consumer msg=\"transaction not found; dropping\" transaction_id=%s", event.TransactionID)
		return true
	case errors.Is(err, store.ErrTransactionNotPending):
		// Replayed delivery of an already-decided transaction.
		log.Printf("level=info component=approval_consumer msg=\"transaction already decided; dropping replay\" transaction_id=%s", event.TransactionID)
		return true
	case errors.Is(err, ErrApproverRoleInsufficient):
		log.Printf("level=warn component=approval_consumer msg=\"approver role insufficient; dropping\" transaction_id=%s approver=%s role=%s", event.TransactionID, event.ApproverID, event.ApproverRole)
		return true
	case errors.Is(err, store.ErrInsufficientFunds):
		// The source balance drifted below the floor; leave the
		// transaction pending for a fresh decision rather than
		// replaying this one forever.
		log.Printf("level=warn component=approval_consumer msg=\"insufficient balance at approval time; leaving pending\" transaction_id=%s", event.TransactionID)
		return true
	default:
		log.Printf("level=error component=approval_consumer msg=\"decision processing failed; requeueing\" transaction_id=%s err=%v", event.TransactionID, err)
		return false
	}
}
