package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd.backend/internal/domain/entities"
	domainerrors "gatewayd.backend/internal/domain/errors"
)

func TestMemoryStoreInvoiceAndPaymentFlow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.AddChain(ctx, testChain("base")))
	inv := &entities.Invoice{
		ID: "inv-1", ChainName: "base", TokenSymbol: "ETH", Address: "0xAAA",
		AmountRaw: entities.Uint256FromUint64(1000), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.AddInvoice(ctx, inv))
	assert.True(t, s.IsWatched(ctx, "base", "0xaaa"))

	found, err := s.GetPendingInvoiceByAddress(ctx, "base", "0xAAA")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", found.ID)

	ev := entities.PaymentEvent{
		ChainName: "base", To: "0xaaa", TxHash: "0xhash", LogIndex: 0,
		BlockNumber: 5, AmountRaw: entities.Uint256FromUint64(1000),
	}
	p, inserted, err := s.AddPaymentAttempt(ctx, "inv-1", ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = s.AddPaymentAttempt(ctx, "inv-1", ev)
	require.NoError(t, err)
	assert.False(t, inserted)

	updated, fullyPaid, err := s.FinalizePayment(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, fullyPaid)
	assert.Equal(t, entities.InvoiceStatusPaid, updated.Status)
}

func TestMemoryStoreFreeSlotAndBusyIndexes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AddChain(ctx, testChain("base")))

	for i, idx := range []uint32{0, 1, 3} {
		inv := &entities.Invoice{
			ID: string(rune('a' + i)), ChainName: "base", TokenSymbol: "ETH",
			Address: string(rune('a' + i)), AddressIndex: idx,
			AmountRaw: entities.Uint256FromUint64(1), ExpiresAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, s.AddInvoice(ctx, inv))
	}
	free, err := s.GetFreeSlot(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), free)
}

func TestMemoryStoreWebhookLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AddChain(ctx, testChain("base")))
	inv := &entities.Invoice{
		ID: "inv-1", ChainName: "base", TokenSymbol: "ETH", Address: "0xaaa",
		AmountRaw: entities.Uint256FromUint64(1000), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.AddInvoice(ctx, inv))

	// no webhook URL: silently skipped
	require.NoError(t, s.AddWebhookJob(ctx, "inv-1", entities.NewTxDetected("inv-1", "0xhash", "1000", "ETH")))
	jobs, err := s.SelectWebhookJobs(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Len(t, jobs, 0)

	err = s.SetInvoiceStatus(ctx, "missing-invoice", entities.InvoiceStatusExpired)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestMemoryStoreNotFoundPaths(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.GetChain(ctx, "missing")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	_, err = s.GetInvoice(ctx, "missing")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	err = s.UpdatePaymentBlock(ctx, "missing", 1)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}
