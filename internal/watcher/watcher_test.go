package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"gatewayd.backend/internal/domain/entities"
	"gatewayd.backend/internal/store"
)

func TestWatcherRecordsFirstSightAndQueuesTxDetected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemoryStore()
	require.NoError(t, s.AddChain(ctx, &entities.Chain{
		Name: "base", Type: entities.ChainTypeEVM, RPCURL: "http://x", XPub: "xpub-test",
		NativeSymbol: "ETH", NativeDecimals: 18, RequiredConfirmations: 1,
	}))
	inv := &entities.Invoice{
		ID: "inv-1", ChainName: "base", TokenSymbol: "ETH", Address: "0xaaa",
		AmountRaw: entities.Uint256FromUint64(1000), ExpiresAt: time.Now().Add(time.Hour),
		WebhookURL: null.StringFrom("https://merchant.example/hook"),
	}
	require.NoError(t, s.AddInvoice(ctx, inv))

	events := make(chan entities.PaymentEvent, 4)
	w := New(s, events)
	go func() { _ = w.Run(ctx) }()

	ev := entities.PaymentEvent{ChainName: "base", TokenSymbol: "ETH", To: "0xaaa", TxHash: "0xhash", BlockNumber: 1, AmountRaw: entities.Uint256FromUint64(1000)}
	events <- ev
	events <- ev // duplicate delivery must not double-enqueue a webhook

	time.Sleep(100 * time.Millisecond)

	confirming, err := s.GetConfirmingPayments(ctx, "base")
	require.NoError(t, err)
	require.Len(t, confirming, 1)

	jobs, err := s.SelectWebhookJobs(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, entities.WebhookEventTxDetected, jobs[0].EventKind)
}

func TestWatcherDropsEventForUnknownAddress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := store.NewMemoryStore()
	events := make(chan entities.PaymentEvent, 1)
	w := New(s, events)
	go func() { _ = w.Run(ctx) }()

	events <- entities.PaymentEvent{ChainName: "base", TokenSymbol: "ETH", To: "0xnotanywhere", TxHash: "0xhash"}
	time.Sleep(50 * time.Millisecond)

	confirming, err := s.GetConfirmingPayments(ctx, "base")
	require.NoError(t, err)
	assert.Len(t, confirming, 0)
}

func TestWatcherRejectsTokenMismatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := store.NewMemoryStore()
	require.NoError(t, s.AddChain(ctx, &entities.Chain{Name: "base", Type: entities.ChainTypeEVM, RPCURL: "x", XPub: "xpub-test", NativeSymbol: "ETH", NativeDecimals: 18}))
	inv := &entities.Invoice{ID: "inv-1", ChainName: "base", TokenSymbol: "USDC", Address: "0xaaa", AmountRaw: entities.Uint256FromUint64(1), ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.AddInvoice(ctx, inv))

	events := make(chan entities.PaymentEvent, 1)
	w := New(s, events)
	go func() { _ = w.Run(ctx) }()

	events <- entities.PaymentEvent{ChainName: "base", TokenSymbol: "ETH", To: "0xaaa", TxHash: "0xhash"}
	time.Sleep(50 * time.Millisecond)

	confirming, err := s.GetConfirmingPayments(ctx, "base")
	require.NoError(t, err)
	assert.Len(t, confirming, 0)
}
