package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"gatewayd.backend/internal/domain/entities"
)

// fakeSupervisor is a SupervisorHandle test double: no real RPC dialing, no
// background goroutines, just enough bookkeeping to assert the handlers
// wired it correctly.
type fakeSupervisor struct {
	started   []string
	stopped   []string
	startErr  error
	freeSlots map[string]uint32
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{freeSlots: map[string]uint32{}}
}

func (f *fakeSupervisor) StartListening(ctx context.Context, chainName string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, chainName)
	return nil
}

func (f *fakeSupervisor) StopListening(chainName string) {
	f.stopped = append(f.stopped, chainName)
}

func (f *fakeSupervisor) GetFreeSlot(ctx context.Context, chainName string) (uint32, error) {
	return f.freeSlots[chainName], nil
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func init() {
	gin.SetMode(gin.TestMode)
}

// chainFixture is a minimally valid registered chain for handler tests that
// don't care about RPC/xpub specifics.
func chainFixture(name string) *entities.Chain {
	return &entities.Chain{
		Name:                  name,
		Type:                  entities.ChainTypeEVM,
		RPCURL:                "https://" + name + ".example",
		XPub:                  testXPub,
		NativeSymbol:          "ETH",
		NativeDecimals:        18,
		RequiredConfirmations: 3,
	}
}

// testXPub is a syntactically valid base58check-encoded extended public key
// (mainnet xpub version bytes, an arbitrary compressed pubkey and chain
// code) so deriver.ParseExtendedPublicKey succeeds in tests that derive an
// invoice address without talking to a real HD wallet.
const testXPub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

