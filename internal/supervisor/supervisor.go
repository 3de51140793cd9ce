// Package supervisor owns the background pipeline's lifecycle: the shared
// event channel, one ingestor per registered chain, and the always-on
// watcher/confirmator/janitor/dispatcher tasks. See spec.md §4.8.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gatewayd.backend/internal/confirmator"
	"gatewayd.backend/internal/dispatcher"
	"gatewayd.backend/internal/domain/entities"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/internal/ingest"
	"gatewayd.backend/internal/janitor"
	"gatewayd.backend/internal/watcher"
	"gatewayd.backend/pkg/logger"
)

// Dial constructs the chain-family adapter pair for a registered chain: the
// ingest-loop-facing ChainAdapter and the confirmator-facing ReceiptFetcher.
// In production both wrap the same underlying RPC client (see
// cmd/server/main.go); tests inject a fake.
type Dial func(chain entities.Chain) (ingest.ChainAdapter, confirmator.ReceiptFetcher, error)

// Config carries the tunables spec.md §4.8/§6 assigns to the supervisor.
type Config struct {
	EventChannelSize      int
	JanitorInterval       time.Duration
	ConfirmInterval       time.Duration
	DispatchInterval      time.Duration
	WebhookTimeout        time.Duration
	WebhookLeaseBatch     int
	WebhookMaxRetries     int
	WebhookFallbackSecret string
}

// Supervisor starts/stops per-chain ingestors and owns the channel the
// ingestors publish PaymentEvents onto for the Watcher to consume.
type Supervisor struct {
	store domainrepos.Store
	dial  Dial
	cfg   Config

	events      chan entities.PaymentEvent
	watcher     *watcher.Watcher
	janitor     *janitor.Janitor
	confirmator *confirmator.Confirmator
	dispatcher  *dispatcher.Dispatcher

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(store domainrepos.Store, dial Dial, cfg Config) *Supervisor {
	if cfg.EventChannelSize <= 0 {
		cfg.EventChannelSize = 100
	}
	events := make(chan entities.PaymentEvent, cfg.EventChannelSize)
	return &Supervisor{
		store:       store,
		dial:        dial,
		cfg:         cfg,
		events:      events,
		watcher:     watcher.New(store, events),
		janitor:     janitor.New(store, cfg.JanitorInterval),
		confirmator: confirmator.New(store, nil, cfg.ConfirmInterval),
		dispatcher:  dispatcher.New(store, cfg.DispatchInterval, cfg.WebhookTimeout, cfg.WebhookLeaseBatch, cfg.WebhookMaxRetries, cfg.WebhookFallbackSecret),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Start spawns the watcher, janitor, confirmator, webhook dispatcher, and one
// ingestor per chain currently registered in the store. It returns once every
// chain's adapter has either started or failed to dial; a dial failure for
// one chain does not prevent the others from starting.
func (s *Supervisor) Start(ctx context.Context) error {
	s.runBackground(ctx, "watcher", s.watcher.Run)
	s.runBackground(ctx, "janitor", s.janitor.Run)
	s.runBackground(ctx, "confirmator", s.confirmator.Run)
	s.runBackground(ctx, "dispatcher", s.dispatcher.Run)

	chains, err := s.store.GetChains(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: failed to list chains: %w", err)
	}
	for _, chain := range chains {
		if err := s.StartListening(ctx, chain.Name); err != nil {
			logger.Error(ctx, "supervisor failed to start ingestor", zap.String("chain", chain.Name), zap.Error(err))
		}
	}
	return nil
}

func (s *Supervisor) runBackground(ctx context.Context, name string, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(ctx); err != nil {
			logger.Error(ctx, "supervisor background task exited with error", zap.String("task", name), zap.Error(err))
		}
	}()
}

// StartListening dials the chain's adapter and spawns its ingestor. It is
// safe to call for a chain already being listened to (a no-op) and for a
// chain registered after Start via the admin API.
func (s *Supervisor) StartListening(ctx context.Context, chainName string) error {
	s.mu.Lock()
	if _, ok := s.cancels[chainName]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	chain, err := s.store.GetChain(ctx, chainName)
	if err != nil {
		return fmt.Errorf("supervisor: %s: %w", chainName, err)
	}

	adapter, receiptFetcher, err := s.dial(*chain)
	if err != nil {
		return fmt.Errorf("supervisor: dial %s: %w", chainName, err)
	}
	s.confirmator.SetAdapter(chainName, receiptFetcher)

	chainCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[chainName] = cancel
	s.mu.Unlock()

	ing := ingest.New(chainName, s.store, adapter, s.events)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := ing.Run(chainCtx); err != nil {
			logger.Error(chainCtx, "ingestor exited with error", zap.String("chain", chainName), zap.Error(err))
		}
	}()

	logger.Info(ctx, "supervisor started listening", zap.String("chain", chainName))
	return nil
}

// StopListening aborts chainName's ingestor task and removes its registered
// confirmator adapter. The ingestor's last committed block survives in the
// store, so a later StartListening resumes exactly where it left off.
func (s *Supervisor) StopListening(chainName string) {
	s.mu.Lock()
	cancel, ok := s.cancels[chainName]
	if ok {
		delete(s.cancels, chainName)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	s.confirmator.RemoveAdapter(chainName)
}

// GetFreeSlot returns the smallest address index not currently held by a
// Pending invoice on chainName, per spec.md's address-index allocation
// invariant.
func (s *Supervisor) GetFreeSlot(ctx context.Context, chainName string) (uint32, error) {
	return s.store.GetFreeSlot(ctx, chainName)
}

// Events exposes the shared channel read-only, for diagnostics/tests; the
// Watcher is the only consumer in production.
func (s *Supervisor) Events() <-chan entities.PaymentEvent {
	return s.events
}

// Wait blocks until every background task this Supervisor spawned has
// returned - callers stop tasks first (cancel the ctx passed to Start, or
// StopListening each chain) and then Wait for a clean shutdown.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
