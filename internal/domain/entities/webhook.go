package entities

import (
	"encoding/json"
	"time"
)

// wireEnvelope is the shape actually POSTed to a merchant: a stable
// event_type discriminator plus a data object, per spec.md §6's webhook
// contract. WebhookEvent itself stays flat internally (simpler to store and
// decode); Envelope() renders it into this wire shape at delivery time.
type wireEnvelope struct {
	EventType WebhookEventKind `json:"event_type"`
	Data      interface{}      `json:"data"`
}

// WebhookJobStatus is the lease lifecycle of one queued webhook delivery.
type WebhookJobStatus string

const (
	WebhookJobPending    WebhookJobStatus = "pending"
	WebhookJobProcessing WebhookJobStatus = "processing"
	WebhookJobDelivered  WebhookJobStatus = "delivered"
	WebhookJobFailed     WebhookJobStatus = "failed" // max_retries exhausted
)

// DefaultWebhookMaxRetries is the per-job retry ceiling spec.md §3 names as
// WebhookJob.max_retries' default.
const DefaultWebhookMaxRetries = 10

// WebhookEventKind discriminates the tagged union of events a merchant can
// receive. Go has no sum types, so WebhookEvent carries a Kind plus only the
// fields relevant to that kind (the others are zero).
type WebhookEventKind string

const (
	WebhookEventTxDetected     WebhookEventKind = "tx_detected"
	WebhookEventTxConfirmed    WebhookEventKind = "tx_confirmed"
	WebhookEventInvoicePaid    WebhookEventKind = "invoice_paid"
	WebhookEventInvoiceExpired WebhookEventKind = "invoice_expired"
)

// WebhookEvent is the payload signed and POSTed to a merchant's WebhookURL.
type WebhookEvent struct {
	Kind          WebhookEventKind `json:"event"`
	InvoiceID     string           `json:"invoice_id"`
	TxHash        string           `json:"tx_hash,omitempty"`
	Amount        string           `json:"amount,omitempty"`       // this payment's amount, human units
	Currency      string           `json:"currency,omitempty"`     // token symbol, tx_detected only
	PaidTotal     string           `json:"paid_total,omitempty"`   // cumulative paid, human units, invoice_paid only
	Confirmations uint64           `json:"confirmations,omitempty"`
}

func NewTxDetected(invoiceID, txHash, amount, currency string) WebhookEvent {
	return WebhookEvent{Kind: WebhookEventTxDetected, InvoiceID: invoiceID, TxHash: txHash, Amount: amount, Currency: currency}
}

func NewTxConfirmed(invoiceID, txHash string, confirmations uint64) WebhookEvent {
	return WebhookEvent{Kind: WebhookEventTxConfirmed, InvoiceID: invoiceID, TxHash: txHash, Confirmations: confirmations}
}

func NewInvoicePaid(invoiceID, paidTotal string) WebhookEvent {
	return WebhookEvent{Kind: WebhookEventInvoicePaid, InvoiceID: invoiceID, PaidTotal: paidTotal}
}

func NewInvoiceExpired(invoiceID string) WebhookEvent {
	return WebhookEvent{Kind: WebhookEventInvoiceExpired, InvoiceID: invoiceID}
}

// WebhookJob is a queued, at-least-once delivery attempt of one WebhookEvent
// against one invoice's configured URL/secret.
type WebhookJob struct {
	ID            string           `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID     string           `gorm:"index;not null" json:"invoice_id"`
	EventKind     WebhookEventKind `gorm:"not null" json:"event_kind"`
	Payload       string           `gorm:"type:text;not null" json:"-"` // json-encoded WebhookEvent
	Status        WebhookJobStatus `gorm:"not null;index" json:"status"`
	Attempts      int              `gorm:"not null;default:0" json:"attempts"`
	MaxRetries    int              `gorm:"not null;default:10" json:"max_retries"`
	NextAttemptAt time.Time        `gorm:"index" json:"next_attempt_at"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (WebhookJob) TableName() string { return "webhook_jobs" }

func NewWebhookJob(id, invoiceID string, event WebhookEvent, now time.Time) (WebhookJob, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return WebhookJob{}, err
	}
	return WebhookJob{
		ID:            id,
		InvoiceID:     invoiceID,
		EventKind:     event.Kind,
		Payload:       string(raw),
		Status:        WebhookJobPending,
		Attempts:      0,
		MaxRetries:    DefaultWebhookMaxRetries,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (j WebhookJob) DecodeEvent() (WebhookEvent, error) {
	var ev WebhookEvent
	err := json.Unmarshal([]byte(j.Payload), &ev)
	return ev, err
}

// Envelope renders the event into the tagged {"event_type","data"} shape
// POSTed to the merchant's webhook URL, with only the fields relevant to
// Kind present in data.
func (e WebhookEvent) Envelope() ([]byte, error) {
	var data interface{}
	switch e.Kind {
	case WebhookEventTxDetected:
		data = struct {
			InvoiceID string `json:"invoice_id"`
			TxHash    string `json:"tx_hash"`
			Amount    string `json:"amount"`
			Currency  string `json:"currency"`
		}{e.InvoiceID, e.TxHash, e.Amount, e.Currency}
	case WebhookEventTxConfirmed:
		data = struct {
			InvoiceID     string `json:"invoice_id"`
			TxHash        string `json:"tx_hash"`
			Confirmations uint64 `json:"confirmations"`
		}{e.InvoiceID, e.TxHash, e.Confirmations}
	case WebhookEventInvoicePaid:
		data = struct {
			InvoiceID  string `json:"invoice_id"`
			PaidAmount string `json:"paid_amount"`
		}{e.InvoiceID, e.PaidTotal}
	case WebhookEventInvoiceExpired:
		data = struct {
			InvoiceID string `json:"invoice_id"`
		}{e.InvoiceID}
	default:
		data = e
	}
	return json.Marshal(wireEnvelope{EventType: e.Kind, Data: data})
}
