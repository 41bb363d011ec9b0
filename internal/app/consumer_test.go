package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/solcustody/vault-mirror-service/internal/domain"
)

func marshalEvent(t *testing.T, event *domain.TransitionEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func TestHandleMessage_DropsInvalidJSON(t *testing.T) {
	consumer := NewReconcileRetryConsumer(NewService(newMemoryMirror()))

	if !consumer.HandleMessage([]byte("{not json")) {
		t.Fatal("expected invalid JSON to be acked and dropped")
	}
}

func TestHandleMessage_DropsIncompleteEvents(t *testing.T) {
	consumer := NewReconcileRetryConsumer(NewService(newMemoryMirror()))

	body := marshalEvent(t, &domain.TransitionEvent{Type: domain.TransitionDeposit, Amount: 10})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected an event without signature and owner to be dropped")
	}
}

func TestHandleMessage_RequeuesWhileVaultMissing(t *testing.T) {
	repo := newMemoryMirror()
	service := NewService(repo)
	consumer := NewReconcileRetryConsumer(service)

	body := marshalEvent(t, transitionEvent("owner-1", "sig-d1", domain.TransitionDeposit, 100))
	if consumer.HandleMessage(body) {
		t.Fatal("expected nack while the vault is not mirrored yet")
	}

	if err := service.ApplyEvent(context.Background(), initializeEvent("owner-1", "sig-init")); err != nil {
		t.Fatalf("initialize returned error: %v", err)
	}
	if !consumer.HandleMessage(body) {
		t.Fatal("expected ack once the vault exists")
	}

	vault, err := service.GetVault(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("get vault returned error: %v", err)
	}
	if vault.TotalBalance != 100 {
		t.Fatalf("expected redelivered deposit to apply, got total %d", vault.TotalBalance)
	}
}

func TestHandleMessage_AcksAnomalies(t *testing.T) {
	repo := newMemoryMirror()
	service := NewService(repo)
	consumer := NewReconcileRetryConsumer(service)

	if err := service.ApplyEvent(context.Background(), initializeEvent("owner-1", "sig-init")); err != nil {
		t.Fatalf("initialize returned error: %v", err)
	}

	body := marshalEvent(t, transitionEvent("owner-1", "sig-w1", domain.TransitionWithdraw, 50))
	if !consumer.HandleMessage(body) {
		t.Fatal("expected an invariant violation to be acked, not requeued")
	}
}
