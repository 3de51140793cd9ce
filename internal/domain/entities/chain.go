package entities

import "time"

// ChainType identifies the family of adapter a chain needs. Only EVM is
// implemented by the ingestor today; SVM/Substrate are modeled so a chain row
// can be registered ahead of its adapter landing, matching the enum already
// carried end-to-end through the store and admin API.
type ChainType string

const (
	ChainTypeEVM       ChainType = "evm"
	ChainTypeSVM       ChainType = "svm"
	ChainTypeSubstrate ChainType = "substrate"
)

// Chain is a registered network the gateway watches. Name is the stable
// identifier used everywhere else (invoices, tokens, watch sets) - it is not
// the chain's human display name, it's closer to a slug ("base-sepolia").
type Chain struct {
	ID                    string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name                  string    `gorm:"uniqueIndex;not null" json:"name"`
	Type                  ChainType `gorm:"not null" json:"type"`
	RPCURL                string    `gorm:"not null" json:"rpc_url"`
	XPub                  string    `gorm:"column:xpub;not null" json:"xpub"`
	NativeSymbol          string    `gorm:"not null;default:ETH" json:"native_symbol"`
	NativeDecimals        uint8     `gorm:"not null;default:18" json:"native_decimals"`
	BlockLag              uint8     `gorm:"not null;default:2" json:"block_lag"`
	RequiredConfirmations uint64    `gorm:"not null;default:12" json:"required_confirmations"`
	LastProcessedBlock    uint64    `gorm:"not null;default:0" json:"last_processed_block"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (Chain) TableName() string { return "chains" }

// ChainPartialUpdate carries only the fields an admin PATCH is allowed to
// touch; zero-value pointers mean "leave unchanged". Mirrors the distilled
// spec's update_chain_partial operation.
type ChainPartialUpdate struct {
	RPCURL                *string `json:"rpc_url,omitempty"`
	RequiredConfirmations *uint64 `json:"required_confirmations,omitempty"`
	BlockLag              *uint8  `json:"block_lag,omitempty"`
}

// Token is a unit of value on a chain. A nil/empty ContractAddress means the
// chain's native asset (ETH, BNB, ...); otherwise it's an ERC20-family
// contract address, always stored lowercase.
type Token struct {
	ID              string  `gorm:"type:uuid;primaryKey" json:"id"`
	ChainName       string  `gorm:"index:idx_token_chain_symbol,unique;not null" json:"chain_name"`
	Symbol          string  `gorm:"index:idx_token_chain_symbol,unique;not null" json:"symbol"`
	ContractAddress *string `gorm:"column:contract_address" json:"contract_address,omitempty"`
	Decimals        uint8   `gorm:"not null" json:"decimals"`
}

func (Token) TableName() string { return "tokens" }

func (t Token) IsNative() bool {
	return t.ContractAddress == nil || *t.ContractAddress == ""
}
