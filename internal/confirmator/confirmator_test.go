package confirmator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd.backend/internal/domain/entities"
	"gatewayd.backend/internal/store"
)

type fakeFetcher struct {
	blockNumber uint64
	found       bool
	err         error
}

func (f *fakeFetcher) TxBlockNumber(ctx context.Context, txHash string) (uint64, bool, error) {
	return f.blockNumber, f.found, f.err
}

func setupChainAndInvoice(t *testing.T, s *store.MemoryStore, requiredConfirmations uint64, lastProcessed uint64) *entities.Invoice {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.AddChain(ctx, &entities.Chain{
		Name: "base", Type: entities.ChainTypeEVM, RPCURL: "x", XPub: "xpub-test",
		NativeSymbol: "ETH", NativeDecimals: 18, RequiredConfirmations: requiredConfirmations,
		LastProcessedBlock: lastProcessed,
	}))
	inv := &entities.Invoice{
		ID: "inv-1", ChainName: "base", TokenSymbol: "ETH", Address: "0xaaa",
		AmountRaw: entities.Uint256FromUint64(1000), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.AddInvoice(ctx, inv))
	require.NoError(t, s.AddWatchAddress(ctx, "base", "0xaaa"))
	return inv
}

func TestConfirmatorSkipsPaymentNotDeepEnough(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	inv := setupChainAndInvoice(t, s, 3, 5)
	ev := entities.PaymentEvent{ChainName: "base", TokenSymbol: "ETH", To: "0xaaa", TxHash: "0xh1", BlockNumber: 5, AmountRaw: entities.Uint256FromUint64(1000)}
	_, _, err := s.AddPaymentAttempt(ctx, inv.ID, ev)
	require.NoError(t, err)

	c := New(s, map[string]ReceiptFetcher{"base": &fakeFetcher{found: true, blockNumber: 5}}, time.Hour)
	c.tick(ctx)

	payments, err := s.GetConfirmingPayments(ctx, "base")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.False(t, payments[0].Confirmed)
}

func TestConfirmatorFinalizesAndEmitsInvoicePaid(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	inv := setupChainAndInvoice(t, s, 3, 8)
	ev := entities.PaymentEvent{ChainName: "base", TokenSymbol: "ETH", To: "0xaaa", TxHash: "0xh1", BlockNumber: 5, AmountRaw: entities.Uint256FromUint64(1000)}
	_, _, err := s.AddPaymentAttempt(ctx, inv.ID, ev)
	require.NoError(t, err)

	c := New(s, map[string]ReceiptFetcher{"base": &fakeFetcher{found: true, blockNumber: 5}}, time.Hour)
	c.tick(ctx)

	payments, err := s.GetConfirmingPayments(ctx, "base")
	require.NoError(t, err)
	assert.Len(t, payments, 0)

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.InvoiceStatusPaid, got.Status)

	assert.False(t, s.IsWatched(ctx, "base", "0xaaa"))

	jobs, err := s.SelectWebhookJobs(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, entities.WebhookEventInvoicePaid, jobs[0].EventKind)
}

func TestConfirmatorHandlesReorgByUpdatingBlockNumber(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	inv := setupChainAndInvoice(t, s, 3, 8)
	ev := entities.PaymentEvent{ChainName: "base", TokenSymbol: "ETH", To: "0xaaa", TxHash: "0xh1", BlockNumber: 5, AmountRaw: entities.Uint256FromUint64(1000)}
	_, _, err := s.AddPaymentAttempt(ctx, inv.ID, ev)
	require.NoError(t, err)

	c := New(s, map[string]ReceiptFetcher{"base": &fakeFetcher{found: true, blockNumber: 6}}, time.Hour)
	c.tick(ctx)

	payments, err := s.GetConfirmingPayments(ctx, "base")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, uint64(6), payments[0].BlockNumber)
	assert.False(t, payments[0].Confirmed)
}

func TestConfirmatorLeavesConfirmingWhenTxNotFound(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	inv := setupChainAndInvoice(t, s, 3, 8)
	ev := entities.PaymentEvent{ChainName: "base", TokenSymbol: "ETH", To: "0xaaa", TxHash: "0xh1", BlockNumber: 5, AmountRaw: entities.Uint256FromUint64(1000)}
	_, _, err := s.AddPaymentAttempt(ctx, inv.ID, ev)
	require.NoError(t, err)

	c := New(s, map[string]ReceiptFetcher{"base": &fakeFetcher{found: false}}, time.Hour)
	c.tick(ctx)

	payments, err := s.GetConfirmingPayments(ctx, "base")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, uint64(5), payments[0].BlockNumber)
	assert.False(t, payments[0].Confirmed)
}

func TestConfirmatorPartialPaymentEmitsTxConfirmed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.AddChain(ctx, &entities.Chain{
		Name: "base", Type: entities.ChainTypeEVM, RPCURL: "x", XPub: "xpub-test",
		NativeSymbol: "ETH", NativeDecimals: 18, RequiredConfirmations: 3, LastProcessedBlock: 8,
	}))
	inv := &entities.Invoice{
		ID: "inv-1", ChainName: "base", TokenSymbol: "ETH", Address: "0xaaa",
		AmountRaw: entities.Uint256FromUint64(1000), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.AddInvoice(ctx, inv))
	require.NoError(t, s.AddWatchAddress(ctx, "base", "0xaaa"))

	ev := entities.PaymentEvent{ChainName: "base", TokenSymbol: "ETH", To: "0xaaa", TxHash: "0xh1", BlockNumber: 5, AmountRaw: entities.Uint256FromUint64(400)}
	_, _, err := s.AddPaymentAttempt(ctx, inv.ID, ev)
	require.NoError(t, err)

	c := New(s, map[string]ReceiptFetcher{"base": &fakeFetcher{found: true, blockNumber: 5}}, time.Hour)
	c.tick(ctx)

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.InvoiceStatusPending, got.Status)
	assert.True(t, s.IsWatched(ctx, "base", "0xaaa"))

	jobs, err := s.SelectWebhookJobs(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, entities.WebhookEventTxConfirmed, jobs[0].EventKind)
}
