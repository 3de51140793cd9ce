package confirmator

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// receiptClient is the narrow slice of evmadapter.Client (and ethclient.Client)
// the EVM ReceiptFetcher needs.
type receiptClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMReceiptFetcher answers TxBlockNumber by asking the node for the
// transaction's receipt; go-ethereum reports a missing receipt as
// ethereum.NotFound.
type EVMReceiptFetcher struct {
	client receiptClient
}

func NewEVMReceiptFetcher(client receiptClient) *EVMReceiptFetcher {
	return &EVMReceiptFetcher{client: client}
}

func (f *EVMReceiptFetcher) TxBlockNumber(ctx context.Context, txHash string) (uint64, bool, error) {
	receipt, err := f.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return 0, false, nil
	}
	return receipt.BlockNumber.Uint64(), true, nil
}
