package repositories

import (
	"context"
	"time"

	"gatewayd.backend/internal/domain/entities"
)

// ExpiredInvoice is the tuple expire_old_invoices returns for each invoice it
// just flipped to Expired, so the caller can drop the address from its watch
// set without a second round trip.
type ExpiredInvoice struct {
	InvoiceID string
	ChainName string
	Address   string
}

// Store is the single durable-plus-cached persistence boundary every
// background component and the admin API goes through. One implementation is
// backed by GORM (Postgres in production, SQLite in tests); the in-memory
// implementation is for fast unit tests of components that only need the
// interface. Both must honor the same invariants.
type Store interface {
	// Chains
	AddChain(ctx context.Context, chain *entities.Chain) error
	RemoveChain(ctx context.Context, name string) error // cascades tokens, invoices, watch set
	GetChain(ctx context.Context, name string) (*entities.Chain, error)
	GetChains(ctx context.Context) ([]entities.Chain, error)
	UpdateChainPartial(ctx context.Context, name string, update entities.ChainPartialUpdate) error
	UpdateChainBlock(ctx context.Context, name string, blockNumber uint64) error

	// Tokens
	AddToken(ctx context.Context, token *entities.Token) error
	GetToken(ctx context.Context, chainName, symbol string) (*entities.Token, error)
	GetTokens(ctx context.Context, chainName string) ([]entities.Token, error)
	GetChainsWithToken(ctx context.Context, symbol string) ([]entities.Chain, error)

	// Watch set (also mirrored into an in-process cache for the hot ingest path)
	AddWatchAddress(ctx context.Context, chainName, address string) error
	RemoveWatchAddress(ctx context.Context, chainName, address string) error
	RemoveWatchAddressesBulk(ctx context.Context, chainName string, addresses []string) error
	IsWatched(ctx context.Context, chainName, address string) bool
	GetBusyIndexes(ctx context.Context, chainName string) ([]uint32, error)
	GetFreeSlot(ctx context.Context, chainName string) (uint32, error)
	// SnapshotWatchSet returns a point-in-time copy of a chain's watch-set, so
	// the ingestor can process one block against a fixed view: addresses
	// added while block b is being processed take effect starting block b+1.
	SnapshotWatchSet(ctx context.Context, chainName string) map[string]struct{}

	// Token decimals cache (read-mostly, hit on every ingested transfer)
	GetTokenDecimals(ctx context.Context, chainName, symbol string) (uint8, bool)
	// SnapshotTokenContracts returns a point-in-time lowercase-contract ->
	// symbol map for a chain, used to recognize token transfer logs without a
	// DB round trip per block.
	SnapshotTokenContracts(ctx context.Context, chainName string) map[string]string

	// Invoices
	AddInvoice(ctx context.Context, invoice *entities.Invoice) error // ErrDuplicateID on id collision
	GetInvoice(ctx context.Context, id string) (*entities.Invoice, error)
	GetPendingInvoiceByAddress(ctx context.Context, chainName, address string) (*entities.Invoice, error)
	ExpireOldInvoices(ctx context.Context, now time.Time) ([]ExpiredInvoice, error)
	SetInvoiceStatus(ctx context.Context, id string, status entities.InvoiceStatus) error

	// Payments
	// AddPaymentAttempt upserts a Payment keyed on (tx_hash, log_index): a
	// fresh row is inserted on first sight, and block_number alone is updated
	// if the same log is seen again at a new block height (reorg handling).
	// inserted is true only on the insert path, never on the conflict-update
	// path - the watcher only enqueues TxDetected when inserted is true.
	AddPaymentAttempt(ctx context.Context, invoiceID string, ev entities.PaymentEvent) (payment entities.Payment, inserted bool, err error)
	GetConfirmingPayments(ctx context.Context, chainName string) ([]entities.Payment, error)
	UpdatePaymentBlock(ctx context.Context, paymentID string, blockNumber uint64) error
	// FinalizePayment marks a payment confirmed and, in the same transaction,
	// adds its amount to the invoice's paid total, returning whether the
	// invoice became fully paid as a result.
	FinalizePayment(ctx context.Context, paymentID string) (invoice entities.Invoice, fullyPaid bool, err error)
	RemovePayment(ctx context.Context, paymentID string) error // reorg: drop an unconfirmed payment whose block vanished

	// Webhook jobs
	AddWebhookJob(ctx context.Context, invoiceID string, event entities.WebhookEvent) error
	// SelectWebhookJobs leases up to limit Pending jobs (flipping them to
	// Processing) atomically, so two dispatcher instances never lease the
	// same job.
	SelectWebhookJobs(ctx context.Context, limit int, now time.Time) ([]entities.WebhookJob, error)
	MarkWebhookDelivered(ctx context.Context, jobID string) error
	// MarkWebhookRetry increments Attempts, and either reschedules NextAttemptAt
	// (back to Pending) or, once attempts >= maxRetries, marks the job Failed.
	MarkWebhookRetry(ctx context.Context, jobID string, nextAttemptAt time.Time, maxRetries int) error
	// RecoverStuckWebhookJobs resets every Processing job back to Pending; run
	// once at startup so a crash mid-delivery never strands a job leased
	// forever.
	RecoverStuckWebhookJobs(ctx context.Context) (int, error)
}
