// Package ingest runs one polling loop per registered chain, turning new
// blocks into PaymentEvents on a shared channel. See spec.md §4.2.
package ingest

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"gatewayd.backend/internal/domain/entities"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/pkg/logger"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), the
// standard ERC20 Transfer event signature.
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Selectors the missing-logs heuristic watches for in a transaction's input
// data, per spec.md §4.2.
const (
	selectorTransfer     = "a9059cbb"
	selectorTransferFrom = "23b872dd"
)

const (
	blockCommitInterval = 10
	tipPollInterval     = 1500 * time.Millisecond
	blockFetchBackoff   = time.Second
	missingLogsRetries  = 15
)

// Ingestor runs the per-chain polling loop described in spec.md §4.2,
// emitting PaymentEvents onto a shared channel for the Watcher to consume.
type Ingestor struct {
	chainName string
	store     domainrepos.Store
	adapter   ChainAdapter
	events    chan<- entities.PaymentEvent
}

func New(chainName string, store domainrepos.Store, adapter ChainAdapter, events chan<- entities.PaymentEvent) *Ingestor {
	return &Ingestor{chainName: chainName, store: store, adapter: adapter, events: events}
}

// Run blocks until ctx is canceled; it returns an error only when the chain
// cannot be loaded from the store. A send onto the event channel waits until
// the Watcher takes the event or ctx is canceled (a send abandoned because ctx
// was canceled is not an error; the supervisor cancels ctx to stop every
// ingestor at shutdown).
func (ing *Ingestor) Run(ctx context.Context) error {
	chain, err := ing.store.GetChain(ctx, ing.chainName)
	if err != nil {
		return err
	}

	last := chain.LastProcessedBlock
	if last == 0 {
		last = ing.waitForTip(ctx)
		if err := ing.store.UpdateChainBlock(ctx, ing.chainName, last); err != nil {
			logger.Error(ctx, "failed to persist initial chain tip", zap.String("chain", ing.chainName), zap.Error(err))
		}
	}

	sinceCommit := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		blockLag := uint64(chain.BlockLag)
		tip, ok := ing.fetchTip(ctx)
		if !ok {
			return nil
		}
		var target uint64
		if tip > blockLag {
			target = tip - blockLag
		}
		if target <= last {
			if !sleepCtx(ctx, tipPollInterval) {
				return nil
			}
			continue
		}

		watch := ing.store.SnapshotWatchSet(ctx, ing.chainName)
		contracts := ing.store.SnapshotTokenContracts(ctx, ing.chainName)

		for b := last + 1; b <= target; b++ {
			blockEvents, ok := ing.processBlock(ctx, b, watch, contracts, chain.NativeSymbol, chain.NativeDecimals)
			if !ok {
				return nil
			}
			for _, ev := range blockEvents {
				select {
				case ing.events <- ev:
				case <-ctx.Done():
					return nil
				}
			}
			last = b
			sinceCommit++
			if sinceCommit >= blockCommitInterval || b == target {
				if err := ing.store.UpdateChainBlock(ctx, ing.chainName, last); err != nil {
					logger.Error(ctx, "failed to persist last_processed_block", zap.String("chain", ing.chainName), zap.Error(err))
				}
				sinceCommit = 0
			}
		}
	}
}

// waitForTip retries the node's current block number indefinitely with fixed
// backoff, per spec.md §4.2 step 1. Returns 0 (never blocks forever in
// practice) only if ctx is already canceled.
func (ing *Ingestor) waitForTip(ctx context.Context) uint64 {
	for {
		tip, err := ing.adapter.BlockNumber(ctx)
		if err == nil {
			return tip
		}
		logger.Warn(ctx, "failed to fetch initial chain tip, retrying", zap.String("chain", ing.chainName), zap.Error(err))
		if !sleepCtx(ctx, blockFetchBackoff) {
			return 0
		}
	}
}

// fetchTip retries BlockNumber with fixed backoff; ok is false only when ctx
// was canceled mid-retry.
func (ing *Ingestor) fetchTip(ctx context.Context) (uint64, bool) {
	for {
		tip, err := ing.adapter.BlockNumber(ctx)
		if err == nil {
			return tip, true
		}
		logger.Warn(ctx, "failed to fetch chain tip, retrying", zap.String("chain", ing.chainName), zap.Error(err))
		if !sleepCtx(ctx, blockFetchBackoff) {
			return 0, false
		}
	}
}

// processBlock fetches block b with infinite retry and extracts native and
// token transfer PaymentEvents, native events ordered before log events, per
// spec.md §4.2. ok is false only when ctx was canceled mid-retry.
func (ing *Ingestor) processBlock(
	ctx context.Context,
	b uint64,
	watch map[string]struct{},
	contracts map[string]string,
	nativeSymbol string,
	nativeDecimals uint8,
) ([]entities.PaymentEvent, bool) {
	block := ing.fetchBlock(ctx, b)
	if block == nil {
		return nil, false
	}

	var events []entities.PaymentEvent
	for _, tx := range block.Transactions() {
		to := tx.To()
		if to == nil || tx.Value() == nil || tx.Value().Sign() <= 0 {
			continue
		}
		addr := strings.ToLower(to.Hex())
		if _, ok := watch[addr]; !ok {
			continue
		}
		from, _ := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		events = append(events, entities.PaymentEvent{
			ChainName:   ing.chainName,
			TokenSymbol: nativeSymbol,
			From:        strings.ToLower(from.Hex()),
			To:          addr,
			TxHash:      tx.Hash().Hex(),
			BlockNumber: b,
			AmountRaw:   entities.NewUint256(tx.Value()),
		})
	}

	if len(contracts) == 0 {
		return events, true
	}

	addresses := make([]common.Address, 0, len(contracts))
	for contract := range contracts {
		addresses = append(addresses, common.HexToAddress(contract))
	}

	logs := ing.fetchLogs(ctx, b, addresses, block)
	for _, lg := range logs {
		if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		toAddr := common.HexToAddress(lg.Topics[2].Hex())
		addr := strings.ToLower(toAddr.Hex())
		if _, ok := watch[addr]; !ok {
			continue
		}
		symbol, ok := contracts[strings.ToLower(lg.Address.Hex())]
		if !ok {
			continue
		}
		decimals, _ := ing.store.GetTokenDecimals(ctx, ing.chainName, symbol)
		fromAddr := common.HexToAddress(lg.Topics[1].Hex())
		amount := new(big.Int).SetBytes(lg.Data)
		idx := lg.Index
		events = append(events, entities.PaymentEvent{
			ChainName:   ing.chainName,
			TokenSymbol: symbol,
			From:        strings.ToLower(fromAddr.Hex()),
			To:          addr,
			TxHash:      lg.TxHash.Hex(),
			LogIndex:    idx,
			BlockNumber: b,
			AmountRaw:   entities.NewUint256(amount),
		})
		_ = decimals // decimals are applied at read time via Invoice.Amount/Paid, not stored per-event
	}
	return events, true
}

func (ing *Ingestor) fetchBlock(ctx context.Context, b uint64) *types.Block {
	for {
		block, err := ing.adapter.BlockByNumber(ctx, new(big.Int).SetUint64(b))
		if err == nil {
			return block
		}
		logger.Warn(ctx, "failed to fetch block, retrying", zap.String("chain", ing.chainName), zap.Uint64("block", b), zap.Error(err))
		if !sleepCtx(ctx, blockFetchBackoff) {
			return nil
		}
	}
}

// fetchLogs applies the missing-logs heuristic: if a transaction looks like
// a token transfer but FilterLogs comes back empty, retry up to
// missingLogsRetries times before accepting the transfer may have reverted.
// A FilterLogs error is retried with fixed backoff until the call succeeds
// (or ctx is canceled) and does not count against that budget.
func (ing *Ingestor) fetchLogs(ctx context.Context, b uint64, addresses []common.Address, block *types.Block) []types.Log {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(b),
		ToBlock:   new(big.Int).SetUint64(b),
		Addresses: addresses,
		Topics:    [][]common.Hash{{transferTopic}},
	}

	attempts := 1
	if looksLikeTokenTransfer(block, addresses) {
		attempts = missingLogsRetries
	}

	var logs []types.Log
	for i := 0; i < attempts; {
		fetched, err := ing.adapter.FilterLogs(ctx, query)
		if err != nil {
			logger.Warn(ctx, "failed to filter transfer logs, retrying", zap.String("chain", ing.chainName), zap.Uint64("block", b), zap.Error(err))
			if !sleepCtx(ctx, blockFetchBackoff) {
				return nil
			}
			continue
		}
		logs = fetched
		if len(logs) > 0 {
			return logs
		}
		i++
		if i < attempts {
			if !sleepCtx(ctx, blockFetchBackoff) {
				return nil
			}
		}
	}
	return logs
}

func looksLikeTokenTransfer(block *types.Block, contracts []common.Address) bool {
	for _, tx := range block.Transactions() {
		to := tx.To()
		if to == nil {
			continue
		}
		if !addressIn(*to, contracts) {
			continue
		}
		data := tx.Data()
		if len(data) < 4 {
			continue
		}
		selector := common.Bytes2Hex(data[:4])
		if selector == selectorTransfer || selector == selectorTransferFrom {
			return true
		}
	}
	return false
}

func addressIn(addr common.Address, set []common.Address) bool {
	for _, a := range set {
		if bytes.Equal(a.Bytes(), addr.Bytes()) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
