/**
 * @description
 * This file contains the HTTP handlers for the vault-mirror-service: the
 * inbound webhook endpoint fed by the notification relay, and the read-only
 * balance query endpoint.
 *
 * Key features:
 * - Security: validates the HMAC signature of incoming webhooks when a
 *   shared secret is configured.
 * - The webhook response encodes the reconciliation error taxonomy: benign
 *   and permanent conditions are acknowledged so the relay stops retrying,
 *   ordering gaps are requeued internally, and only infrastructure failures
 *   return a server error (so the relay redelivers).
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256: For webhook signature validation.
 * - encoding/json, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: Service logic, models, and
 *   custom errors.
 * - pkg/rabbitmq: Retry queue publisher.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/solcustody/vault-mirror-service/internal/app"
	"github.com/solcustody/vault-mirror-service/internal/domain"
	"github.com/solcustody/vault-mirror-service/internal/store"
	"github.com/solcustody/vault-mirror-service/pkg/rabbitmq"
)

const balanceQueryRateWindow = time.Minute

// VaultHandlers holds the decoder, service, and retry publisher the handlers use.
type VaultHandlers struct {
	decoder       *app.Decoder
	service       *app.Service
	producer      rabbitmq.Publisher
	webhookSecret string

	retryExchange   string
	retryRoutingKey string

	limiter           *app.RedisRateLimiter
	balanceRatePerMin int
}

// NewVaultHandlers creates a new instance of VaultHandlers.
func NewVaultHandlers(decoder *app.Decoder, service *app.Service, producer rabbitmq.Publisher, webhookSecret, retryExchange, retryRoutingKey string) *VaultHandlers {
	return &VaultHandlers{
		decoder:         decoder,
		service:         service,
		producer:        producer,
		webhookSecret:   webhookSecret,
		retryExchange:   retryExchange,
		retryRoutingKey: retryRoutingKey,
	}
}

// SetRateLimiter enables redis-backed rate limiting on the balance endpoint.
func (h *VaultHandlers) SetRateLimiter(limiter *app.RedisRateLimiter, perMinute int) {
	h.limiter = limiter
	h.balanceRatePerMin = perMinute
}

// WebhookHandler ingests a relay delivery: a JSON array of transaction
// envelopes. Every envelope in the delivery is processed independently.
func (h *VaultHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=warn component=api endpoint=webhook outcome=reject reason=unreadable_body err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Cannot read request body")
		return
	}

	if !h.isValidSignature(r.Header.Get("x-helius-signature"), body) {
		log.Printf("level=warn component=api endpoint=webhook outcome=reject reason=invalid_signature")
		h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var envelopes []domain.TransactionEnvelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		log.Printf("level=warn component=api endpoint=webhook outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if len(envelopes) == 0 {
		h.writeJSON(w, http.StatusOK, map[string]string{"message": "Empty delivery"})
		return
	}

	for i := range envelopes {
		if err := h.processEnvelope(r, &envelopes[i]); err != nil {
			log.Printf("level=error component=api endpoint=webhook outcome=failed signature=%s err=%v", envelopes[i].Signature, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error during event processing")
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Webhook processed"})
}

// processEnvelope applies one envelope. A nil return means the delivery can
// be acknowledged; an error means the relay should redeliver the whole batch.
func (h *VaultHandlers) processEnvelope(r *http.Request, envelope *domain.TransactionEnvelope) error {
	event, err := h.decoder.Decode(envelope)
	if err != nil {
		// Permanent validation failure: discard and acknowledge.
		log.Printf("level=warn component=api endpoint=webhook outcome=discard reason=validation signature=%s err=%v",
			envelope.Signature, err)
		return nil
	}
	if event == nil {
		log.Printf("level=info component=api endpoint=webhook outcome=not_relevant signature=%s", envelope.Signature)
		return nil
	}

	err = h.service.ApplyEvent(r.Context(), event)
	switch {
	case err == nil:
		return nil
	case app.IsAnomaly(err):
		// The authoritative program should have rejected this transition.
		// Acknowledge so the relay stops, but leave a loud trail.
		log.Printf("level=error component=api endpoint=webhook outcome=anomaly owner=%s signature=%s type=%s err=%v",
			event.Owner, event.Signature, event.Type, err)
		return nil
	case app.IsRetriable(err):
		return h.scheduleRetry(r, event)
	default:
		return err
	}
}

// scheduleRetry hands an out-of-order event to the retry queue. Without a
// broker the event would be lost on acknowledgment, so the delivery fails
// instead and the relay redelivers.
func (h *VaultHandlers) scheduleRetry(r *http.Request, event *domain.TransitionEvent) error {
	if h.producer == nil {
		return errors.New("retry publisher unavailable; cannot defer out-of-order event")
	}
	if err := h.producer.Publish(r.Context(), h.retryExchange, h.retryRoutingKey, event); err != nil {
		return err
	}
	log.Printf("level=info component=api endpoint=webhook outcome=retry_scheduled owner=%s signature=%s type=%s",
		event.Owner, event.Signature, event.Type)
	return nil
}

// BalanceHandler serves the mirrored vault for an owner pubkey.
func (h *VaultHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		h.writeError(w, http.StatusBadRequest, "Owner pubkey is required")
		return
	}

	if h.limiter != nil && h.balanceRatePerMin > 0 {
		count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "balance_query", owner, h.balanceRatePerMin, balanceQueryRateWindow)
		if err != nil {
			// Rate limiting is best effort; a limiter outage must not take
			// the read path down with it.
			log.Printf("level=warn component=api endpoint=balance msg=\"rate limiter unavailable\" err=%v", err)
		} else if count > h.balanceRatePerMin {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many balance queries. Please slow down.")
			return
		}
	}

	vault, err := h.service.GetVault(r.Context(), owner)
	if err != nil {
		if errors.Is(err, store.ErrVaultNotFound) {
			h.writeError(w, http.StatusNotFound, "Vault not found")
			return
		}
		log.Printf("level=error component=api endpoint=balance outcome=failed owner=%s err=%v", owner, err)
		h.writeError(w, http.StatusInternalServerError, "Could not load vault")
		return
	}

	h.writeJSON(w, http.StatusOK, vault)
}

// isValidSignature checks the sha256 HMAC of the raw body against the header.
// Validation is skipped when no secret is configured.
func (h *VaultHandlers) isValidSignature(signatureHeader string, body []byte) bool {
	if h.webhookSecret == "" {
		return true
	}

	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(header); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(header); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	return false
}

// writeJSON is a helper for writing JSON responses.
func (h *VaultHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *VaultHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
