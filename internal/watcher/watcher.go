// Package watcher is the single consumer of the ingestors' shared event
// channel. See spec.md §4.4.
package watcher

import (
	"context"

	"go.uber.org/zap"

	"gatewayd.backend/internal/domain/entities"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/pkg/logger"
)

// Watcher correlates PaymentEvents to Pending invoices and records a
// payment attempt, queuing a TxDetected webhook job the first time a
// transfer is seen.
type Watcher struct {
	store  domainrepos.Store
	events <-chan entities.PaymentEvent
}

func New(store domainrepos.Store, events <-chan entities.PaymentEvent) *Watcher {
	return &Watcher{store: store, events: events}
}

// Run drains the channel until ctx is canceled or the channel is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev entities.PaymentEvent) {
	invoice, err := w.store.GetPendingInvoiceByAddress(ctx, ev.ChainName, ev.To)
	if err != nil {
		logger.Warn(ctx, "payment event for address with no pending invoice, dropping",
			zap.String("chain", ev.ChainName), zap.String("to", ev.To), zap.String("tx_hash", ev.TxHash))
		return
	}
	if invoice.TokenSymbol != ev.TokenSymbol {
		logger.Warn(ctx, "payment event token mismatch, dropping",
			zap.String("invoice_id", invoice.ID), zap.String("expected", invoice.TokenSymbol), zap.String("got", ev.TokenSymbol))
		return
	}

	payment, inserted, err := w.store.AddPaymentAttempt(ctx, invoice.ID, ev)
	if err != nil {
		logger.Error(ctx, "failed to record payment attempt", zap.String("invoice_id", invoice.ID), zap.Error(err))
		return
	}
	if !inserted {
		return
	}

	decimals, _ := w.store.GetTokenDecimals(ctx, ev.ChainName, ev.TokenSymbol)
	event := entities.NewTxDetected(invoice.ID, payment.TxHash, payment.AmountRaw.Decimal(decimals), ev.TokenSymbol)
	if err := w.store.AddWebhookJob(ctx, invoice.ID, event); err != nil {
		logger.Error(ctx, "failed to enqueue tx_detected webhook", zap.String("invoice_id", invoice.ID), zap.Error(err))
	}
}
