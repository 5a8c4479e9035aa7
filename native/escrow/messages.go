package escrow

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// InitializeMsg seeds the config singleton at system initialisation.
type InitializeMsg struct {
	Admin string `json:"admin"`
	Denom string `json:"denom"`
}

// DepositNotification is the transfer-in callback delivered by the asset
// registry. The payload is opaque to the registry and decoded here.
type DepositNotification struct {
	Source  string          `json:"source"`
	TokenID string          `json:"token_id"`
	Payload json.RawMessage `json:"payload"`
}

// DepositPayload is the escrow definition carried inside a deposit
// notification.
type DepositPayload struct {
	Recipient  string   `json:"recipient"`
	Price      *big.Int `json:"price"`
	Expiration int64    `json:"expiration"`
}

// WithdrawMsg returns an expired item to its source. Must carry no payment.
type WithdrawMsg struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
}

// ApproveMsg settles an escrow; the attached payment must be exactly one coin.
type ApproveMsg struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
}

// ChangeConfigMsg replaces the config singleton.
type ChangeConfigMsg struct {
	Admin string `json:"admin"`
	Denom string `json:"denom"`
}

func decodeDepositPayload(raw []byte) (*DepositPayload, error) {
	payload := &DepositPayload{}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("escrow: decode deposit payload: %w", err)
	}
	return payload, nil
}

// Instruction is an outbound effect produced by a successful transition and
// executed by the host after the invocation commits.
type Instruction interface {
	InstructionType() string
}

// AssetTransfer instructs the registry identified by Collection to move the
// item to Recipient.
type AssetTransfer struct {
	Collection string `json:"collection"`
	Recipient  string `json:"recipient"`
	TokenID    string `json:"token_id"`
}

// InstructionType implements the Instruction interface.
func (AssetTransfer) InstructionType() string { return "asset_transfer" }

// FundTransfer instructs the host ledger to pay Amount of Denom to To.
type FundTransfer struct {
	To     string   `json:"to_address"`
	Denom  string   `json:"denom"`
	Amount *big.Int `json:"amount"`
}

// InstructionType implements the Instruction interface.
func (FundTransfer) InstructionType() string { return "fund_transfer" }
