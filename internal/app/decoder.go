/**
 * @description
 * This file contains the event decoder: it turns an opaque transaction
 * envelope pushed by the relay into a typed domain.TransitionEvent, or
 * classifies it as not relevant to the vault program.
 *
 * Key features:
 * - Closed set of recognized anchor event names (DepositEvent, WithdrawEvent,
 *   LockEvent, UnlockEvent); everything else from the program is ignored.
 * - Initialize is not emitted as an anchor event by the program. It is
 *   inferred from the shape of the first instruction, reading the
 *   fixed-position account list: 0 owner, 1 tradingAuthority, 2 vault,
 *   3 vaultTokenAccount. The list length is validated before indexing.
 * - Amounts are non-negative integer strings; a recognized event whose
 *   payload does not parse fails with ErrMalformedEvent, and an integer that
 *   does not fit in u64 fails with domain.ErrArithmeticOverflow.
 *
 * @dependencies
 * - encoding/json, errors, fmt, strconv: Standard Go libraries.
 * - internal/domain: Envelope and transition event types.
 */

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/solcustody/vault-mirror-service/internal/domain"
)

// ErrMalformedEvent marks a notification that names a recognized vault event
// but carries a payload that cannot be parsed. Permanent: redelivery would
// not help.
var ErrMalformedEvent = errors.New("malformed vault event payload")

const (
	envelopeTypeEnhanced       = "ENHANCED"
	anchorEventType            = "anchor"
	initializeInstructionName  = "initializeVault"
	initializeAccountListWidth = 4
)

// Decoder recognizes vault-program transitions inside relay envelopes.
type Decoder struct {
	programID string
}

// NewDecoder creates a decoder bound to one vault program id.
func NewDecoder(programID string) *Decoder {
	return &Decoder{programID: programID}
}

// transitionEventPayload is the payload shape shared by the program's balance
// events. Amount fields are integer strings so u64 values survive JSON.
type transitionEventPayload struct {
	User       string `json:"user"`
	Amount     string `json:"amount"`
	NewBalance string `json:"newBalance"`
}

// Decode returns the transition carried by the envelope, (nil, nil) when the
// envelope does not concern the vault program, or an error when a recognized
// event is malformed.
func (d *Decoder) Decode(envelope *domain.TransactionEnvelope) (*domain.TransitionEvent, error) {
	if !d.isRelevant(envelope) {
		return nil, nil
	}

	for _, event := range envelope.Events {
		if event.Type != anchorEventType {
			continue
		}
		transition, recognized := transitionForEventName(event.Name)
		if !recognized {
			continue
		}
		return d.decodeBalanceEvent(envelope.Signature, transition, event)
	}

	if len(envelope.Instructions) > 0 && envelope.Instructions[0].Name == initializeInstructionName {
		return d.decodeInitialize(envelope.Signature, envelope.Instructions[0])
	}

	return nil, nil
}

func (d *Decoder) isRelevant(envelope *domain.TransactionEnvelope) bool {
	if envelope.Type != envelopeTypeEnhanced {
		return false
	}
	if len(envelope.AccountData) == 0 {
		return false
	}
	return envelope.AccountData[0].ProgramID == d.programID
}

func (d *Decoder) decodeBalanceEvent(signature string, transition domain.TransitionType, event domain.AnchorEvent) (*domain.TransitionEvent, error) {
	var payload transitionEventPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, event.Name, err)
	}
	if strings.TrimSpace(payload.User) == "" {
		return nil, fmt.Errorf("%w: %s payload is missing the user pubkey", ErrMalformedEvent, event.Name)
	}

	amount, err := parseAmount(payload.Amount)
	if err != nil {
		return nil, fmt.Errorf("%s amount: %w", event.Name, err)
	}

	decoded := &domain.TransitionEvent{
		Type:      transition,
		Signature: signature,
		Owner:     payload.User,
		Amount:    amount,
	}

	if transition == domain.TransitionDeposit && payload.NewBalance != "" {
		newTotal, err := parseAmount(payload.NewBalance)
		if err != nil {
			return nil, fmt.Errorf("%s newBalance: %w", event.Name, err)
		}
		decoded.NewTotalBalance = &newTotal
	}

	return decoded, nil
}

func (d *Decoder) decodeInitialize(signature string, instruction domain.Instruction) (*domain.TransitionEvent, error) {
	if len(instruction.Accounts) < initializeAccountListWidth {
		return nil, fmt.Errorf("%w: initializeVault expects %d accounts, got %d",
			ErrMalformedEvent, initializeAccountListWidth, len(instruction.Accounts))
	}
	return &domain.TransitionEvent{
		Type:                domain.TransitionInitialize,
		Signature:           signature,
		Owner:               instruction.Accounts[0],
		TradingAuthority:    instruction.Accounts[1],
		VaultAddress:        instruction.Accounts[2],
		TokenAccountAddress: instruction.Accounts[3],
	}, nil
}

func transitionForEventName(name string) (domain.TransitionType, bool) {
	switch name {
	case "DepositEvent":
		return domain.TransitionDeposit, true
	case "WithdrawEvent":
		return domain.TransitionWithdraw, true
	case "LockEvent":
		return domain.TransitionLock, true
	case "UnlockEvent":
		return domain.TransitionUnlock, true
	default:
		return "", false
	}
}

// parseAmount parses a non-negative integer string into a u64. Syntax errors
// are validation failures; a value past the u64 range is an overflow.
func parseAmount(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %q exceeds u64", domain.ErrArithmeticOverflow, trimmed)
		}
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", ErrMalformedEvent, trimmed)
	}
	return parsed, nil
}
