// Package evmadapter wraps ethclient.Client behind ingest.ChainAdapter,
// grounded on the teacher's EVMClient (infrastructure/blockchain/evm_client.go).
package evmadapter

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the EVM-family ChainAdapter implementation.
type Client struct {
	rpc *ethclient.Client
}

// Dial connects to an EVM JSON-RPC endpoint, mirroring the teacher's
// NewEVMClient dial step (minus the chain-ID fetch, which the ingestor has
// no use for).
func Dial(rpcURL string) (*Client, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc}, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.rpc.BlockNumber(ctx)
}

func (c *Client) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return c.rpc.BlockByNumber(ctx, number)
}

func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return c.rpc.FilterLogs(ctx, query)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.rpc.TransactionReceipt(ctx, txHash)
}

func (c *Client) Close() {
	c.rpc.Close()
}
