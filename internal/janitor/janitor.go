// Package janitor periodically expires Pending invoices past their deadline
// and frees their watch addresses. See spec.md §4.6.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gatewayd.backend/internal/domain/entities"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/pkg/logger"
)

// Janitor runs one tick loop that sweeps expired invoices off the Pending
// state and releases their addresses back into the free pool.
type Janitor struct {
	store    domainrepos.Store
	interval time.Duration
}

func New(store domainrepos.Store, interval time.Duration) *Janitor {
	return &Janitor{store: store, interval: interval}
}

// Run ticks until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

// tick expires due invoices and releases their addresses, grouped by chain
// so a single bulk-removal call can serve every invoice expiring on the same
// chain this tick rather than one round trip per invoice.
func (j *Janitor) tick(ctx context.Context) {
	expired, err := j.store.ExpireOldInvoices(ctx, time.Now())
	if err != nil {
		logger.Error(ctx, "janitor failed to expire invoices", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	byChain := make(map[string][]string)
	for _, e := range expired {
		if err := j.store.AddWebhookJob(ctx, e.InvoiceID, entities.NewInvoiceExpired(e.InvoiceID)); err != nil {
			logger.Error(ctx, "janitor failed to enqueue invoice_expired webhook",
				zap.String("invoice_id", e.InvoiceID), zap.Error(err))
		}
		byChain[e.ChainName] = append(byChain[e.ChainName], e.Address)
	}

	for chainName, addresses := range byChain {
		if err := j.store.RemoveWatchAddressesBulk(ctx, chainName, addresses); err != nil {
			logger.Error(ctx, "janitor failed to bulk-remove watch addresses",
				zap.String("chain", chainName), zap.Int("count", len(addresses)), zap.Error(err))
		}
	}

	logger.Info(ctx, "janitor expired invoices", zap.Int("count", len(expired)))
}
