/**
 * @description
 * This file defines the wire types for notifications pushed by the
 * enhanced-transaction relay (Helius webhooks), and the decoded
 * TransitionEvent the reconciliation pipeline operates on.
 *
 * @notes
 * - The relay delivers an array of transaction envelopes per webhook call,
 *   at-least-once and without ordering guarantees. The envelope is treated as
 *   untrusted input: the decoder in internal/app turns it into a closed set
 *   of typed transition events and rejects anything else.
 * - Amount fields on anchor event payloads are non-negative integer strings
 *   (u64 values do not survive JSON numbers beyond 2^53).
 */

package domain

import "encoding/json"

// TransactionEnvelope is one enhanced transaction as delivered by the relay.
type TransactionEnvelope struct {
	Signature    string        `json:"signature"`
	Type         string        `json:"type"`
	AccountData  []AccountData `json:"accountData"`
	Events       []AnchorEvent `json:"events"`
	Instructions []Instruction `json:"instructions"`
}

// AccountData carries per-account metadata for the transaction. The relay
// reports the owning program of the primary account at index 0.
type AccountData struct {
	Account   string `json:"account"`
	ProgramID string `json:"programId"`
}

// AnchorEvent is a log-derived program event. Data is kept raw until the
// event name selects a payload shape.
type AnchorEvent struct {
	Type string          `json:"type"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// Instruction describes one instruction of the transaction. The account list
// is positional; the initializeVault instruction is recognized by this shape
// rather than by an emitted event.
type Instruction struct {
	Name      string   `json:"name"`
	ProgramID string   `json:"programId"`
	Accounts  []string `json:"accounts"`
}

// TransitionEvent is a decoded vault-program transition. It is owned by the
// pipeline invocation that decoded it and discarded after application.
type TransitionEvent struct {
	Type      TransitionType `json:"type"`
	Signature string         `json:"signature"`
	Owner     string         `json:"owner"`

	// Amount is set for deposit/withdraw/lock/unlock.
	Amount uint64 `json:"amount,string"`

	// NewTotalBalance is reported by the on-chain DepositEvent and is used
	// only to detect drift between the mirror and the program.
	NewTotalBalance *uint64 `json:"new_total_balance,string,omitempty"`

	// Initialize-only fields, read from the fixed-position account list.
	VaultAddress        string `json:"vault_pda,omitempty"`
	TokenAccountAddress string `json:"token_account_pda,omitempty"`
	TradingAuthority    string `json:"trading_authority,omitempty"`
}
