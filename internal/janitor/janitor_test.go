package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd.backend/internal/domain/entities"
	"gatewayd.backend/internal/store"
)

func setupExpiredInvoice(t *testing.T, s *store.MemoryStore, expiresAt time.Time) *entities.Invoice {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.AddChain(ctx, &entities.Chain{
		Name: "base", Type: entities.ChainTypeEVM, RPCURL: "x", XPub: "xpub-test",
		NativeSymbol: "ETH", NativeDecimals: 18, RequiredConfirmations: 3,
	}))
	inv := &entities.Invoice{
		ID: "inv-1", ChainName: "base", TokenSymbol: "ETH", Address: "0xaaa",
		AmountRaw: entities.Uint256FromUint64(1000), ExpiresAt: expiresAt,
	}
	require.NoError(t, s.AddInvoice(ctx, inv))
	require.NoError(t, s.AddWatchAddress(ctx, "base", "0xaaa"))
	return inv
}

func TestJanitorExpiresInvoiceAndReleasesAddress(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	inv := setupExpiredInvoice(t, s, time.Now().Add(-time.Minute))

	j := New(s, time.Hour)
	j.tick(ctx)

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.InvoiceStatusExpired, got.Status)
	assert.False(t, s.IsWatched(ctx, "base", "0xaaa"))

	jobs, err := s.SelectWebhookJobs(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, entities.WebhookEventInvoiceExpired, jobs[0].EventKind)
}

func TestJanitorLeavesUnexpiredInvoicesAlone(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	inv := setupExpiredInvoice(t, s, time.Now().Add(time.Hour))

	j := New(s, time.Hour)
	j.tick(ctx)

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.InvoiceStatusPending, got.Status)
	assert.True(t, s.IsWatched(ctx, "base", "0xaaa"))

	jobs, err := s.SelectWebhookJobs(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Len(t, jobs, 0)
}

func TestJanitorStopsOnContextCancel(t *testing.T) {
	s := store.NewMemoryStore()
	j := New(s, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop on context cancel")
	}
}
