package store

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gatewayd.backend/internal/domain/entities"
	domainerrors "gatewayd.backend/internal/domain/errors"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/pkg/logger"
	"gatewayd.backend/pkg/utils"
)

var _ domainrepos.Store = (*GormStore)(nil)

// GormStore is the durable Store implementation: Postgres in production,
// SQLite ":memory:" in tests, same code path either way (teacher's dual
// gorm.io/driver go.mod). leaseClient is optional - when set, every leased
// webhook job also gets a short-TTL Redis key, removed on delivery or retry.
// The key is not consulted when leasing or recovering jobs; Processing rows
// are reset only by the startup sweep.
type GormStore struct {
	db          *gorm.DB
	cache       *cache
	leaseClient *goredis.Client
	leaseTTL    time.Duration
}

// NewGormStore wires a GORM connection into a Store. Call Migrate then
// LoadCaches before handing this to the supervisor.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, cache: newCache(), leaseTTL: 30 * time.Second}
}

// WithLeaseClient attaches the Redis client used for the per-job lease keys
// described on SelectWebhookJobs.
func (s *GormStore) WithLeaseClient(c *goredis.Client, ttl time.Duration) *GormStore {
	s.leaseClient = c
	if ttl > 0 {
		s.leaseTTL = ttl
	}
	return s
}

// Migrate runs GORM's auto-migration against the domain entities. The
// teacher has no separate migration tool either; it relies on AutoMigrate at
// startup, same as here.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&entities.Chain{},
		&entities.Token{},
		&entities.Invoice{},
		&entities.Payment{},
		&entities.WebhookJob{},
	)
}

// LoadCaches performs spec.md's startup recovery: load all chains/tokens,
// seed each chain's watch-set from Pending invoice addresses, and reset any
// webhook job stranded in Processing back to Pending.
func (s *GormStore) LoadCaches(ctx context.Context) error {
	var chains []entities.Chain
	if err := s.db.WithContext(ctx).Find(&chains).Error; err != nil {
		return err
	}
	for _, ch := range chains {
		s.cache.putChain(&chainCache{
			Name:                  ch.Name,
			Type:                  ch.Type,
			RPCURL:                ch.RPCURL,
			XPub:                  ch.XPub,
			NativeSymbol:          ch.NativeSymbol,
			NativeDecimals:        ch.NativeDecimals,
			BlockLag:              ch.BlockLag,
			RequiredConfirmations: ch.RequiredConfirmations,
			LastProcessedBlock:    ch.LastProcessedBlock,
		})
	}

	var tokens []entities.Token
	if err := s.db.WithContext(ctx).Find(&tokens).Error; err != nil {
		return err
	}
	for _, tk := range tokens {
		contract := ""
		if tk.ContractAddress != nil {
			contract = *tk.ContractAddress
		}
		s.cache.putTokenDecimals(tk.ChainName, tk.Symbol, tk.Decimals, contract)
	}

	var pending []entities.Invoice
	if err := s.db.WithContext(ctx).Where("status = ?", entities.InvoiceStatusPending).Find(&pending).Error; err != nil {
		return err
	}
	for _, inv := range pending {
		s.cache.addWatch(inv.ChainName, inv.Address)
	}

	n, err := s.RecoverStuckWebhookJobs(ctx)
	if err != nil {
		return err
	}
	logger.Info(ctx, "store recovered from durable state",
		zap.Int("chains", len(chains)),
		zap.Int("tokens", len(tokens)),
		zap.Int("watched_pending_invoices", len(pending)),
		zap.Int("recovered_webhook_jobs", n),
	)
	return nil
}

// ---- Chains ----

func (s *GormStore) AddChain(ctx context.Context, chain *entities.Chain) error {
	if chain.ID == "" {
		chain.ID = utils.GenerateUUIDv7().String()
	}
	now := time.Now()
	chain.CreatedAt, chain.UpdatedAt = now, now
	if err := s.db.WithContext(ctx).Create(chain).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateID
		}
		return err
	}
	s.cache.putChain(&chainCache{
		Name:                  chain.Name,
		Type:                  chain.Type,
		RPCURL:                chain.RPCURL,
		XPub:                  chain.XPub,
		NativeSymbol:          chain.NativeSymbol,
		NativeDecimals:        chain.NativeDecimals,
		BlockLag:              chain.BlockLag,
		RequiredConfirmations: chain.RequiredConfirmations,
		LastProcessedBlock:    chain.LastProcessedBlock,
	})
	return nil
}

func (s *GormStore) RemoveChain(ctx context.Context, name string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var chain entities.Chain
		if err := tx.Where("name = ?", name).First(&chain).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrNotFound
			}
			return err
		}
		var invoiceIDs []string
		if err := tx.Model(&entities.Invoice{}).Where("chain_name = ?", name).Pluck("id", &invoiceIDs).Error; err != nil {
			return err
		}
		if len(invoiceIDs) > 0 {
			if err := tx.Where("invoice_id IN ?", invoiceIDs).Delete(&entities.Payment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("invoice_id IN ?", invoiceIDs).Delete(&entities.WebhookJob{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("chain_name = ?", name).Delete(&entities.Invoice{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chain_name = ?", name).Delete(&entities.Token{}).Error; err != nil {
			return err
		}
		return tx.Delete(&chain).Error
	})
	if err != nil {
		return err
	}
	s.cache.removeChain(name)
	return nil
}

func (s *GormStore) GetChain(ctx context.Context, name string) (*entities.Chain, error) {
	var chain entities.Chain
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&chain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domainerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

func (s *GormStore) GetChains(ctx context.Context) ([]entities.Chain, error) {
	var chains []entities.Chain
	if err := s.db.WithContext(ctx).Order("name").Find(&chains).Error; err != nil {
		return nil, err
	}
	return chains, nil
}

func (s *GormStore) UpdateChainPartial(ctx context.Context, name string, update entities.ChainPartialUpdate) error {
	fields := map[string]interface{}{"updated_at": time.Now()}
	if update.RPCURL != nil {
		fields["rpc_url"] = *update.RPCURL
	}
	if update.RequiredConfirmations != nil {
		fields["required_confirmations"] = *update.RequiredConfirmations
	}
	if update.BlockLag != nil {
		fields["block_lag"] = *update.BlockLag
	}
	res := s.db.WithContext(ctx).Model(&entities.Chain{}).Where("name = ?", name).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	if ch, ok := s.cache.getChain(name); ok {
		if update.RPCURL != nil {
			ch.RPCURL = *update.RPCURL
		}
		if update.RequiredConfirmations != nil {
			ch.RequiredConfirmations = *update.RequiredConfirmations
		}
		if update.BlockLag != nil {
			ch.BlockLag = *update.BlockLag
		}
		s.cache.putChain(ch)
	}
	return nil
}

func (s *GormStore) UpdateChainBlock(ctx context.Context, name string, blockNumber uint64) error {
	res := s.db.WithContext(ctx).Model(&entities.Chain{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{"last_processed_block": blockNumber, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	s.cache.setLastProcessedBlock(name, blockNumber)
	return nil
}

// ---- Tokens ----

func (s *GormStore) AddToken(ctx context.Context, token *entities.Token) error {
	if token.ID == "" {
		token.ID = utils.GenerateUUIDv7().String()
	}
	if token.ContractAddress != nil {
		lower := normalizeAddress(*token.ContractAddress)
		token.ContractAddress = &lower
	}
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateID
		}
		return err
	}
	contract := ""
	if token.ContractAddress != nil {
		contract = *token.ContractAddress
	}
	s.cache.putTokenDecimals(token.ChainName, token.Symbol, token.Decimals, contract)
	return nil
}

func (s *GormStore) GetToken(ctx context.Context, chainName, symbol string) (*entities.Token, error) {
	var token entities.Token
	err := s.db.WithContext(ctx).Where("chain_name = ? AND symbol = ?", chainName, symbol).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domainerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *GormStore) GetTokens(ctx context.Context, chainName string) ([]entities.Token, error) {
	var tokens []entities.Token
	if err := s.db.WithContext(ctx).Where("chain_name = ?", chainName).Find(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *GormStore) GetChainsWithToken(ctx context.Context, symbol string) ([]entities.Chain, error) {
	var chainNames []string
	if err := s.db.WithContext(ctx).Model(&entities.Token{}).Where("symbol = ?", symbol).Pluck("chain_name", &chainNames).Error; err != nil {
		return nil, err
	}
	if len(chainNames) == 0 {
		return nil, nil
	}
	var chains []entities.Chain
	if err := s.db.WithContext(ctx).Where("name IN ?", chainNames).Find(&chains).Error; err != nil {
		return nil, err
	}
	return chains, nil
}

// ---- Watch set ----

func (s *GormStore) AddWatchAddress(ctx context.Context, chainName, address string) error {
	s.cache.addWatch(chainName, address)
	return nil
}

func (s *GormStore) RemoveWatchAddress(ctx context.Context, chainName, address string) error {
	s.cache.removeWatch(chainName, address)
	return nil
}

func (s *GormStore) RemoveWatchAddressesBulk(ctx context.Context, chainName string, addresses []string) error {
	s.cache.removeWatchBulk(chainName, addresses)
	return nil
}

func (s *GormStore) IsWatched(ctx context.Context, chainName, address string) bool {
	return s.cache.isWatched(chainName, address)
}

func (s *GormStore) GetBusyIndexes(ctx context.Context, chainName string) ([]uint32, error) {
	var indexes []uint32
	err := s.db.WithContext(ctx).Model(&entities.Invoice{}).
		Where("chain_name = ? AND status = ?", chainName, entities.InvoiceStatusPending).
		Pluck("address_index", &indexes).Error
	if err != nil {
		return nil, err
	}
	return indexes, nil
}

// GetFreeSlot returns min{k : k not in busy}, not the source's buggy
// 0..=len(busy) contiguity shortcut (SPEC_FULL's open-question resolution).
func (s *GormStore) GetFreeSlot(ctx context.Context, chainName string) (uint32, error) {
	busy, err := s.GetBusyIndexes(ctx, chainName)
	if err != nil {
		return 0, err
	}
	return freeSlot(busy), nil
}

func freeSlot(busy []uint32) uint32 {
	taken := make(map[uint32]struct{}, len(busy))
	for _, b := range busy {
		taken[b] = struct{}{}
	}
	var k uint32
	for {
		if _, ok := taken[k]; !ok {
			return k
		}
		k++
	}
}

func (s *GormStore) GetTokenDecimals(ctx context.Context, chainName, symbol string) (uint8, bool) {
	return s.cache.getTokenDecimals(chainName, symbol)
}

func (s *GormStore) SnapshotWatchSet(ctx context.Context, chainName string) map[string]struct{} {
	return s.cache.snapshotWatch(chainName)
}

func (s *GormStore) SnapshotTokenContracts(ctx context.Context, chainName string) map[string]string {
	return s.cache.snapshotTokenContracts(chainName)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "violates unique constraint")
}
