package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatewayd.backend/internal/domain/entities"
	domainerrors "gatewayd.backend/internal/domain/errors"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/pkg/utils"
)

// MemoryStore is a plain-map implementation of repositories.Store, used by
// component tests (watcher, confirmator, janitor, dispatcher) that need real
// Store semantics without a database. It shares the same cache type as
// GormStore for the watch-set/token-decimals hot path, so both
// implementations enforce identical read-after-write behavior.
type MemoryStore struct {
	mu sync.Mutex

	cache *cache

	chains   map[string]*entities.Chain
	tokens   map[string]map[string]*entities.Token // chain -> symbol -> token
	invoices map[string]*entities.Invoice
	payments map[string]*entities.Payment
	webhooks map[string]*entities.WebhookJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache:    newCache(),
		chains:   make(map[string]*entities.Chain),
		tokens:   make(map[string]map[string]*entities.Token),
		invoices: make(map[string]*entities.Invoice),
		payments: make(map[string]*entities.Payment),
		webhooks: make(map[string]*entities.WebhookJob),
	}
}

var _ domainrepos.Store = (*MemoryStore)(nil)

func (s *MemoryStore) AddChain(ctx context.Context, chain *entities.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[chain.Name]; ok {
		return domainerrors.ErrDuplicateID
	}
	if chain.ID == "" {
		chain.ID = utils.GenerateUUIDv7().String()
	}
	now := time.Now()
	chain.CreatedAt, chain.UpdatedAt = now, now
	cp := *chain
	s.chains[chain.Name] = &cp
	s.cache.putChain(&chainCache{
		Name: chain.Name, Type: chain.Type, RPCURL: chain.RPCURL, XPub: chain.XPub,
		NativeSymbol: chain.NativeSymbol, NativeDecimals: chain.NativeDecimals,
		BlockLag: chain.BlockLag, RequiredConfirmations: chain.RequiredConfirmations,
		LastProcessedBlock: chain.LastProcessedBlock,
	})
	return nil
}

func (s *MemoryStore) RemoveChain(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[name]; !ok {
		return domainerrors.ErrNotFound
	}
	delete(s.chains, name)
	delete(s.tokens, name)
	for id, inv := range s.invoices {
		if inv.ChainName == name {
			delete(s.invoices, id)
		}
	}
	for id, p := range s.payments {
		if p.ChainName == name {
			delete(s.payments, id)
		}
	}
	s.cache.removeChain(name)
	return nil
}

func (s *MemoryStore) GetChain(ctx context.Context, name string) (*entities.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chains[name]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (s *MemoryStore) GetChains(ctx context.Context) ([]entities.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.Chain, 0, len(s.chains))
	for _, ch := range s.chains {
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateChainPartial(ctx context.Context, name string, update entities.ChainPartialUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chains[name]
	if !ok {
		return domainerrors.ErrNotFound
	}
	if update.RPCURL != nil {
		ch.RPCURL = *update.RPCURL
	}
	if update.RequiredConfirmations != nil {
		ch.RequiredConfirmations = *update.RequiredConfirmations
	}
	if update.BlockLag != nil {
		ch.BlockLag = *update.BlockLag
	}
	ch.UpdatedAt = time.Now()
	if cc, ok := s.cache.getChain(name); ok {
		if update.RPCURL != nil {
			cc.RPCURL = *update.RPCURL
		}
		if update.RequiredConfirmations != nil {
			cc.RequiredConfirmations = *update.RequiredConfirmations
		}
		if update.BlockLag != nil {
			cc.BlockLag = *update.BlockLag
		}
		s.cache.putChain(cc)
	}
	return nil
}

func (s *MemoryStore) UpdateChainBlock(ctx context.Context, name string, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chains[name]
	if !ok {
		return domainerrors.ErrNotFound
	}
	ch.LastProcessedBlock = blockNumber
	s.cache.setLastProcessedBlock(name, blockNumber)
	return nil
}

func (s *MemoryStore) AddToken(ctx context.Context, token *entities.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.ContractAddress != nil {
		lower := normalizeAddress(*token.ContractAddress)
		token.ContractAddress = &lower
	}
	if token.ID == "" {
		token.ID = utils.GenerateUUIDv7().String()
	}
	byChain, ok := s.tokens[token.ChainName]
	if !ok {
		byChain = make(map[string]*entities.Token)
		s.tokens[token.ChainName] = byChain
	}
	if _, exists := byChain[token.Symbol]; exists {
		return domainerrors.ErrDuplicateID
	}
	cp := *token
	byChain[token.Symbol] = &cp
	contract := ""
	if token.ContractAddress != nil {
		contract = *token.ContractAddress
	}
	s.cache.putTokenDecimals(token.ChainName, token.Symbol, token.Decimals, contract)
	return nil
}

func (s *MemoryStore) GetToken(ctx context.Context, chainName, symbol string) (*entities.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byChain, ok := s.tokens[chainName]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	tok, ok := byChain[symbol]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *MemoryStore) GetTokens(ctx context.Context, chainName string) ([]entities.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byChain := s.tokens[chainName]
	out := make([]entities.Token, 0, len(byChain))
	for _, tok := range byChain {
		out = append(out, *tok)
	}
	return out, nil
}

func (s *MemoryStore) GetChainsWithToken(ctx context.Context, symbol string) ([]entities.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Chain
	for chainName, byChain := range s.tokens {
		if _, ok := byChain[symbol]; ok {
			if ch, ok := s.chains[chainName]; ok {
				out = append(out, *ch)
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) AddWatchAddress(ctx context.Context, chainName, address string) error {
	s.cache.addWatch(chainName, address)
	return nil
}

func (s *MemoryStore) RemoveWatchAddress(ctx context.Context, chainName, address string) error {
	s.cache.removeWatch(chainName, address)
	return nil
}

func (s *MemoryStore) RemoveWatchAddressesBulk(ctx context.Context, chainName string, addresses []string) error {
	s.cache.removeWatchBulk(chainName, addresses)
	return nil
}

func (s *MemoryStore) IsWatched(ctx context.Context, chainName, address string) bool {
	return s.cache.isWatched(chainName, address)
}

func (s *MemoryStore) GetBusyIndexes(ctx context.Context, chainName string) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint32
	for _, inv := range s.invoices {
		if inv.ChainName == chainName && inv.Status == entities.InvoiceStatusPending {
			out = append(out, inv.AddressIndex)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetFreeSlot(ctx context.Context, chainName string) (uint32, error) {
	busy, err := s.GetBusyIndexes(ctx, chainName)
	if err != nil {
		return 0, err
	}
	return freeSlot(busy), nil
}

func (s *MemoryStore) GetTokenDecimals(ctx context.Context, chainName, symbol string) (uint8, bool) {
	return s.cache.getTokenDecimals(chainName, symbol)
}

func (s *MemoryStore) SnapshotWatchSet(ctx context.Context, chainName string) map[string]struct{} {
	return s.cache.snapshotWatch(chainName)
}

func (s *MemoryStore) SnapshotTokenContracts(ctx context.Context, chainName string) map[string]string {
	return s.cache.snapshotTokenContracts(chainName)
}

func (s *MemoryStore) AddInvoice(ctx context.Context, invoice *entities.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[invoice.ID]; ok {
		return domainerrors.ErrDuplicateID
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now()
	}
	if invoice.Status == "" {
		invoice.Status = entities.InvoiceStatusPending
	}
	invoice.Address = normalizeAddress(invoice.Address)
	cp := *invoice
	s.invoices[invoice.ID] = &cp
	if invoice.Status == entities.InvoiceStatusPending {
		s.cache.addWatch(invoice.ChainName, invoice.Address)
	}
	return nil
}

func (s *MemoryStore) GetInvoice(ctx context.Context, id string) (*entities.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *MemoryStore) GetPendingInvoiceByAddress(ctx context.Context, chainName, address string) (*entities.Invoice, error) {
	address = normalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.ChainName == chainName && inv.Address == address && inv.Status == entities.InvoiceStatusPending {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (s *MemoryStore) ExpireOldInvoices(ctx context.Context, now time.Time) ([]domainrepos.ExpiredInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []domainrepos.ExpiredInvoice
	for _, inv := range s.invoices {
		if inv.Status == entities.InvoiceStatusPending && !inv.ExpiresAt.After(now) {
			inv.Status = entities.InvoiceStatusExpired
			expired = append(expired, domainrepos.ExpiredInvoice{InvoiceID: inv.ID, ChainName: inv.ChainName, Address: inv.Address})
		}
	}
	return expired, nil
}

func (s *MemoryStore) SetInvoiceStatus(ctx context.Context, id string, status entities.InvoiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return domainerrors.ErrNotFound
	}
	inv.Status = status
	return nil
}

func (s *MemoryStore) AddPaymentAttempt(ctx context.Context, invoiceID string, ev entities.PaymentEvent) (entities.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.InvoiceID == invoiceID && p.TxHash == ev.TxHash && p.LogIndex == ev.LogIndex {
			p.BlockNumber = ev.BlockNumber
			return *p, false, nil
		}
	}
	p := entities.Payment{
		ID: utils.GenerateUUIDv7().String(), InvoiceID: invoiceID, ChainName: ev.ChainName,
		From: normalizeAddress(ev.From), To: normalizeAddress(ev.To), TxHash: ev.TxHash,
		LogIndex: ev.LogIndex, BlockNumber: ev.BlockNumber, AmountRaw: ev.AmountRaw,
		Confirmed: false, CreatedAt: time.Now(),
	}
	s.payments[p.ID] = &p
	return p, true, nil
}

func (s *MemoryStore) GetConfirmingPayments(ctx context.Context, chainName string) ([]entities.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Payment
	for _, p := range s.payments {
		if !p.Confirmed && (chainName == "" || p.ChainName == chainName) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdatePaymentBlock(ctx context.Context, paymentID string, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return domainerrors.ErrNotFound
	}
	p.BlockNumber = blockNumber
	return nil
}

func (s *MemoryStore) FinalizePayment(ctx context.Context, paymentID string) (entities.Invoice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return entities.Invoice{}, false, domainerrors.ErrNotFound
	}
	inv, ok := s.invoices[p.InvoiceID]
	if !ok {
		return entities.Invoice{}, false, domainerrors.ErrNotFound
	}
	if p.Confirmed {
		return *inv, false, nil
	}
	p.Confirmed = true
	inv.PaidRaw = inv.PaidRaw.Add(p.AmountRaw)
	fullyPaid := false
	if inv.IsFullyPaid() && inv.Status == entities.InvoiceStatusPending {
		inv.Status = entities.InvoiceStatusPaid
		fullyPaid = true
	}
	return *inv, fullyPaid, nil
}

func (s *MemoryStore) RemovePayment(ctx context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok || p.Confirmed {
		return domainerrors.ErrNotFound
	}
	delete(s.payments, paymentID)
	return nil
}

func (s *MemoryStore) AddWebhookJob(ctx context.Context, invoiceID string, event entities.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return domainerrors.ErrNotFound
	}
	if !inv.WebhookURL.Valid || inv.WebhookURL.String == "" {
		return nil
	}
	now := time.Now()
	job, err := entities.NewWebhookJob(utils.GenerateUUIDv7().String(), invoiceID, event, now)
	if err != nil {
		return err
	}
	s.webhooks[job.ID] = &job
	return nil
}

func (s *MemoryStore) SelectWebhookJobs(ctx context.Context, limit int, now time.Time) ([]entities.WebhookJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	var ids []string
	for id, j := range s.webhooks {
		if j.Status == entities.WebhookJobPending && !j.NextAttemptAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.webhooks[ids[i]].NextAttemptAt.Before(s.webhooks[ids[j]].NextAttemptAt)
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]entities.WebhookJob, 0, len(ids))
	for _, id := range ids {
		s.webhooks[id].Status = entities.WebhookJobProcessing
		s.webhooks[id].UpdatedAt = now
		out = append(out, *s.webhooks[id])
	}
	return out, nil
}

func (s *MemoryStore) MarkWebhookDelivered(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.webhooks[jobID]
	if !ok {
		return domainerrors.ErrNotFound
	}
	j.Status = entities.WebhookJobDelivered
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MarkWebhookRetry(ctx context.Context, jobID string, nextAttemptAt time.Time, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.webhooks[jobID]
	if !ok {
		return domainerrors.ErrNotFound
	}
	j.Attempts++
	j.UpdatedAt = time.Now()
	if j.Attempts >= maxRetries {
		j.Status = entities.WebhookJobFailed
	} else {
		j.Status = entities.WebhookJobPending
		j.NextAttemptAt = nextAttemptAt
	}
	return nil
}

func (s *MemoryStore) RecoverStuckWebhookJobs(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.webhooks {
		if j.Status == entities.WebhookJobProcessing {
			j.Status = entities.WebhookJobPending
			j.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}
