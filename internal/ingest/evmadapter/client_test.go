package evmadapter

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

func expectPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic, got nil")
		}
	}()
	fn()
}

// Dial requires a reachable RPC endpoint, which the adapter unit tests have
// no business spinning up - so these exercise the same nil-receiver
// behavior the teacher tests instead of shape-checking real RPC calls.
func TestClient_Methods_PanicWhenRPCNil(t *testing.T) {
	c := &Client{rpc: nil}
	ctx := t.Context()

	expectPanic(t, func() { _, _ = c.BlockNumber(ctx) })
	expectPanic(t, func() { _, _ = c.BlockByNumber(ctx, big.NewInt(1)) })
	expectPanic(t, func() { _, _ = c.FilterLogs(ctx, ethereum.FilterQuery{}) })
	expectPanic(t, func() {
		_, _ = c.TransactionReceipt(ctx, common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"))
	})
	expectPanic(t, func() { c.Close() })
}

func TestDial_FailsOnUnparsableURL(t *testing.T) {
	if _, err := Dial("not-a-url"); err == nil {
		t.Fatal("expected Dial to fail on an unparsable RPC URL")
	}
}
