// Package confirmator periodically promotes Confirming payments to Confirmed
// once they are buried deep enough, with reorg awareness. See spec.md §4.5.
package confirmator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gatewayd.backend/internal/domain/entities"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/pkg/logger"
)

// ReceiptFetcher is the minimal on-chain lookup the confirmator needs: given
// a tx hash, the block it was mined in, or ok=false if the node no longer (or
// not yet) indexes it.
type ReceiptFetcher interface {
	TxBlockNumber(ctx context.Context, txHash string) (blockNumber uint64, ok bool, err error)
}

// Confirmator runs one tick loop across every chain, each tick pulling every
// Confirming payment from the store.
type Confirmator struct {
	store    domainrepos.Store
	interval time.Duration

	mu       sync.RWMutex
	adapters map[string]ReceiptFetcher
}

func New(store domainrepos.Store, adapters map[string]ReceiptFetcher, interval time.Duration) *Confirmator {
	if adapters == nil {
		adapters = make(map[string]ReceiptFetcher)
	}
	return &Confirmator{store: store, adapters: adapters, interval: interval}
}

// SetAdapter registers (or replaces) the fetcher for a chain, so the
// Supervisor can wire a newly-added chain in without restarting the
// confirmator loop.
func (c *Confirmator) SetAdapter(chainName string, fetcher ReceiptFetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[chainName] = fetcher
}

// RemoveAdapter drops a chain's fetcher, mirroring stop_listening.
func (c *Confirmator) RemoveAdapter(chainName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.adapters, chainName)
}

func (c *Confirmator) adapterFor(chainName string) (ReceiptFetcher, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.adapters[chainName]
	return f, ok
}

// Run ticks until ctx is canceled.
func (c *Confirmator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Confirmator) tick(ctx context.Context) {
	chains, err := c.store.GetChains(ctx)
	if err != nil {
		logger.Error(ctx, "confirmator failed to list chains", zap.Error(err))
		return
	}
	for _, chain := range chains {
		payments, err := c.store.GetConfirmingPayments(ctx, chain.Name)
		if err != nil {
			logger.Error(ctx, "confirmator failed to load confirming payments", zap.String("chain", chain.Name), zap.Error(err))
			continue
		}
		for _, p := range payments {
			c.processPayment(ctx, chain, p)
		}
	}
}

func (c *Confirmator) processPayment(ctx context.Context, chain entities.Chain, p entities.Payment) {
	if chain.LastProcessedBlock < p.BlockNumber+chain.RequiredConfirmations {
		return
	}

	fetcher, ok := c.adapterFor(chain.Name)
	if !ok {
		logger.Error(ctx, "confirmator has no chain adapter registered", zap.String("chain", chain.Name))
		return
	}

	actual, found, err := fetcher.TxBlockNumber(ctx, p.TxHash)
	if err != nil {
		logger.Warn(ctx, "confirmator rpc lookup failed, retrying next tick",
			zap.String("chain", chain.Name), zap.String("tx_hash", p.TxHash), zap.Error(err))
		return
	}
	if !found {
		// Not yet (or no longer) indexed: possible deep reorg or a dropped
		// tx. Leave Confirming; retried next tick.
		return
	}
	if actual != p.BlockNumber {
		if err := c.store.UpdatePaymentBlock(ctx, p.ID, actual); err != nil {
			logger.Error(ctx, "confirmator failed to update reorged payment block", zap.String("payment_id", p.ID), zap.Error(err))
		}
		return
	}

	invoice, fullyPaid, err := c.store.FinalizePayment(ctx, p.ID)
	if err != nil {
		logger.Error(ctx, "confirmator failed to finalize payment", zap.String("payment_id", p.ID), zap.Error(err))
		return
	}

	if fullyPaid {
		decimals, _ := c.store.GetTokenDecimals(ctx, invoice.ChainName, invoice.TokenSymbol)
		event := entities.NewInvoicePaid(invoice.ID, invoice.PaidRaw.Decimal(decimals))
		if err := c.store.AddWebhookJob(ctx, invoice.ID, event); err != nil {
			logger.Error(ctx, "confirmator failed to enqueue invoice_paid webhook", zap.String("invoice_id", invoice.ID), zap.Error(err))
		}
		if err := c.store.RemoveWatchAddress(ctx, p.ChainName, p.To); err != nil {
			logger.Error(ctx, "confirmator failed to remove watch address", zap.String("chain", p.ChainName), zap.String("address", p.To), zap.Error(err))
		}
		return
	}

	event := entities.NewTxConfirmed(invoice.ID, p.TxHash, chain.RequiredConfirmations)
	if err := c.store.AddWebhookJob(ctx, invoice.ID, event); err != nil {
		logger.Error(ctx, "confirmator failed to enqueue tx_confirmed webhook", zap.String("invoice_id", invoice.ID), zap.Error(err))
	}
}
