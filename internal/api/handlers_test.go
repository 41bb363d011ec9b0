package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/solcustody/vault-mirror-service/internal/app"
	"github.com/solcustody/vault-mirror-service/internal/domain"
	"github.com/solcustody/vault-mirror-service/internal/store"
)

const testProgramID = "VLT1111111111111111111111111111111111111111"

// mirrorStub is an in-memory store.Repository for handler tests.
type mirrorStub struct {
	vaults     map[string]*domain.Vault
	signatures map[string]bool

	failAll error
}

func newMirrorStub() *mirrorStub {
	return &mirrorStub{
		vaults:     make(map[string]*domain.Vault),
		signatures: make(map[string]bool),
	}
}

func (s *mirrorStub) GetVaultByOwner(ctx context.Context, owner string) (*domain.Vault, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	vault, ok := s.vaults[owner]
	if !ok {
		return nil, store.ErrVaultNotFound
	}
	copied := *vault
	return &copied, nil
}

func (s *mirrorStub) CreateVault(ctx context.Context, vault *domain.Vault) error {
	if s.failAll != nil {
		return s.failAll
	}
	if _, ok := s.vaults[vault.Owner]; ok {
		return store.ErrVaultExists
	}
	copied := *vault
	s.vaults[vault.Owner] = &copied
	return nil
}

func (s *mirrorStub) HistoryExists(ctx context.Context, signature string) (bool, error) {
	if s.failAll != nil {
		return false, s.failAll
	}
	return s.signatures[signature], nil
}

func (s *mirrorStub) ApplyVaultTransition(ctx context.Context, owner string, record *domain.VaultTransaction, mutate func(*domain.Vault) error) error {
	if s.failAll != nil {
		return s.failAll
	}
	vault, ok := s.vaults[owner]
	if !ok {
		return store.ErrVaultNotFound
	}
	if s.signatures[record.Signature] {
		return store.ErrDuplicateTransaction
	}
	working := *vault
	if err := mutate(&working); err != nil {
		return err
	}
	s.signatures[record.Signature] = true
	s.vaults[owner] = &working
	return nil
}

// publisherStub records published retry events.
type publisherStub struct {
	published []publishedEvent
	failWith  error
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.published = append(p.published, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

func newTestHandlers(repo store.Repository, producer *publisherStub, secret string) *VaultHandlers {
	decoder := app.NewDecoder(testProgramID)
	service := app.NewService(repo)
	// A typed nil stub must not masquerade as a live publisher.
	if producer == nil {
		return NewVaultHandlers(decoder, service, nil, secret, "vault_mirror.events", "vault.reconcile.retry")
	}
	return NewVaultHandlers(decoder, service, producer, secret, "vault_mirror.events", "vault.reconcile.retry")
}

func depositEnvelope(signature, owner, amount string) map[string]interface{} {
	return map[string]interface{}{
		"signature": signature,
		"type":      "ENHANCED",
		"accountData": []map[string]interface{}{
			{"account": owner, "programId": testProgramID},
		},
		"events": []map[string]interface{}{
			{
				"type": "anchor",
				"name": "DepositEvent",
				"data": map[string]interface{}{"user": owner, "amount": amount},
			},
		},
	}
}

func initializeEnvelope(signature, owner string) map[string]interface{} {
	return map[string]interface{}{
		"signature": signature,
		"type":      "ENHANCED",
		"accountData": []map[string]interface{}{
			{"account": owner, "programId": testProgramID},
		},
		"instructions": []map[string]interface{}{
			{
				"name":      "initializeVault",
				"programId": testProgramID,
				"accounts":  []string{owner, "authority-" + owner, "vault-" + owner, "token-" + owner},
			},
		},
	}
}

func postWebhook(t *testing.T, h *VaultHandlers, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/balance/webhook", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.WebhookHandler(rec, req)
	return rec
}

func TestWebhookHandler_AcknowledgesIrrelevantDelivery(t *testing.T) {
	h := newTestHandlers(newMirrorStub(), &publisherStub{}, "")

	envelope := depositEnvelope("sig-1", "owner-1", "100")
	envelope["accountData"] = []map[string]interface{}{
		{"account": "owner-1", "programId": "SomeOtherProgram11111111111111111111111111"},
	}

	rec := postWebhook(t, h, []interface{}{envelope}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for irrelevant delivery, got %d", rec.Code)
	}
}

func TestWebhookHandler_RejectsInvalidJSON(t *testing.T) {
	h := newTestHandlers(newMirrorStub(), &publisherStub{}, "")

	req := httptest.NewRequest(http.MethodPost, "/balance/webhook", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.WebhookHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", rec.Code)
	}
}

func TestWebhookHandler_AcknowledgesMalformedRecognizedEvent(t *testing.T) {
	h := newTestHandlers(newMirrorStub(), &publisherStub{}, "")

	envelope := depositEnvelope("sig-bad", "owner-1", "not-a-number")
	rec := postWebhook(t, h, []interface{}{envelope}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected malformed events to be acknowledged with 200, got %d", rec.Code)
	}
}

func TestWebhookHandler_SchedulesRetryForEarlyDeposit(t *testing.T) {
	producer := &publisherStub{}
	h := newTestHandlers(newMirrorStub(), producer, "")

	rec := postWebhook(t, h, []interface{}{depositEnvelope("sig-early", "owner-1", "100")}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once the retry is queued, got %d", rec.Code)
	}
	if len(producer.published) != 1 {
		t.Fatalf("expected one retry publish, got %d", len(producer.published))
	}
	if producer.published[0].exchange != "vault_mirror.events" || producer.published[0].routingKey != "vault.reconcile.retry" {
		t.Fatalf("unexpected retry destination: %+v", producer.published[0])
	}
}

func TestWebhookHandler_FailsDeliveryWhenRetryQueueUnavailable(t *testing.T) {
	h := newTestHandlers(newMirrorStub(), nil, "")

	rec := postWebhook(t, h, []interface{}{depositEnvelope("sig-early", "owner-1", "100")}, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the relay redelivers, got %d", rec.Code)
	}
}

func TestWebhookHandler_InitializeThenDepositUpdatesBalance(t *testing.T) {
	repo := newMirrorStub()
	h := newTestHandlers(repo, &publisherStub{}, "")

	payload := []interface{}{
		initializeEnvelope("sig-init", "owner-1"),
		depositEnvelope("sig-d1", "owner-1", "250"),
	}
	rec := postWebhook(t, h, payload, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	vault := repo.vaults["owner-1"]
	if vault == nil {
		t.Fatal("expected vault to be mirrored")
	}
	if vault.TotalBalance != 250 || vault.AvailableBalance != 250 {
		t.Fatalf("unexpected balances after deposit: %+v", vault)
	}
}

func TestWebhookHandler_StoreFailureReturns500(t *testing.T) {
	repo := newMirrorStub()
	repo.failAll = errors.New("connection refused")
	h := newTestHandlers(repo, &publisherStub{}, "")

	rec := postWebhook(t, h, []interface{}{depositEnvelope("sig-d1", "owner-1", "100")}, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for store failure, got %d", rec.Code)
	}
}

func TestWebhookHandler_ValidatesHMACSignature(t *testing.T) {
	h := newTestHandlers(newMirrorStub(), &publisherStub{}, "shared-secret")

	payload := []interface{}{initializeEnvelope("sig-init", "owner-1")}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	// No signature header.
	rec := postWebhook(t, h, payload, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", rec.Code)
	}

	// Wrong signature.
	rec = postWebhook(t, h, payload, map[string]string{"x-helius-signature": "deadbeef"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}

	// Correct hex-encoded HMAC.
	mac := hmac.New(sha256.New, []byte("shared-secret"))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/balance/webhook", bytes.NewReader(body))
	req.Header.Set("x-helius-signature", signature)
	rec = httptest.NewRecorder()
	h.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid signature, got %d", rec.Code)
	}
}

func TestBalanceHandler_RequiresOwner(t *testing.T) {
	h := newTestHandlers(newMirrorStub(), &publisherStub{}, "")

	req := httptest.NewRequest(http.MethodGet, "/balance", nil)
	rec := httptest.NewRecorder()
	h.BalanceHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without owner, got %d", rec.Code)
	}
}

func TestBalanceHandler_UnknownOwnerReturns404(t *testing.T) {
	h := newTestHandlers(newMirrorStub(), &publisherStub{}, "")

	req := httptest.NewRequest(http.MethodGet, "/balance?owner=unknown", nil)
	rec := httptest.NewRecorder()
	h.BalanceHandler(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unmirrored owner, got %d", rec.Code)
	}
}

func TestBalanceHandler_ReturnsMirroredVault(t *testing.T) {
	repo := newMirrorStub()
	repo.vaults["owner-1"] = &domain.Vault{
		Owner:            "owner-1",
		VaultAddress:     "vault-1",
		TotalBalance:     100,
		AvailableBalance: 75,
		LockedBalance:    25,
	}
	h := newTestHandlers(repo, &publisherStub{}, "")

	req := httptest.NewRequest(http.MethodGet, "/balance?owner=owner-1", nil)
	rec := httptest.NewRecorder()
	h.BalanceHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got domain.Vault
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.TotalBalance != 100 || got.AvailableBalance != 75 || got.LockedBalance != 25 {
		t.Fatalf("unexpected balances in response: %+v", got)
	}
}
