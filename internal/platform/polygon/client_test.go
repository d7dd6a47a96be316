package polygon

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

type fakeClient struct {
	nonce uint64
	err   error
	calls int
}

func (f *fakeClient) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.nonce, nil
}

func newTestPool(t *testing.T, endpoints []string, clients map[string]*fakeClient) *Pool {
	t.Helper()
	p, err := NewPool(PoolConfig{Endpoints: endpoints}, slog.Default())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p.dial = func(_ context.Context, endpoint string) (nonceClient, error) {
		c, ok := clients[endpoint]
		if !ok {
			return nil, errors.New("unknown endpoint")
		}
		return c, nil
	}
	return p
}

const testAddr = "0x56687bf447db6ffa42ffe2204a05edaa20f55839"

func TestNonceAtFirstEndpoint(t *testing.T) {
	clients := map[string]*fakeClient{
		"a": {nonce: 7},
		"b": {nonce: 99},
	}
	p := newTestPool(t, []string{"a", "b"}, clients)

	nonce, err := p.NonceAt(context.Background(), testAddr)
	if err != nil {
		t.Fatalf("NonceAt: %v", err)
	}
	if nonce != 7 {
		t.Errorf("nonce = %d, want 7", nonce)
	}
	if clients["b"].calls != 0 {
		t.Errorf("second endpoint called %d times, want 0", clients["b"].calls)
	}
}

func TestNonceAtFailsOver(t *testing.T) {
	clients := map[string]*fakeClient{
		"a": {err: errors.New("rate limited")},
		"b": {nonce: 3},
	}
	p := newTestPool(t, []string{"a", "b"}, clients)

	nonce, err := p.NonceAt(context.Background(), testAddr)
	if err != nil {
		t.Fatalf("NonceAt: %v", err)
	}
	if nonce != 3 {
		t.Errorf("nonce = %d, want 3", nonce)
	}

	// The pool should remember that "b" answered and try it first next time.
	clients["a"].calls = 0
	if _, err := p.NonceAt(context.Background(), testAddr); err != nil {
		t.Fatalf("second NonceAt: %v", err)
	}
	if clients["a"].calls != 0 {
		t.Errorf("failed endpoint retried %d times after failover, want 0", clients["a"].calls)
	}
}

func TestNonceAtAllEndpointsFail(t *testing.T) {
	clients := map[string]*fakeClient{
		"a": {err: errors.New("down")},
		"b": {err: errors.New("down")},
	}
	p := newTestPool(t, []string{"a", "b"}, clients)

	nonce, err := p.NonceAt(context.Background(), testAddr)
	if !errors.Is(err, domain.ErrAllEndpointsFailed) {
		t.Fatalf("err = %v, want ErrAllEndpointsFailed", err)
	}
	if nonce != -1 {
		t.Errorf("nonce = %d, want -1 sentinel", nonce)
	}
}

func TestNonceAtInvalidAddress(t *testing.T) {
	p := newTestPool(t, []string{"a"}, map[string]*fakeClient{"a": {}})

	if _, err := p.NonceAt(context.Background(), "not-an-address"); err == nil {
		t.Fatal("expected error for invalid address")
	}
}

func TestNewPoolRequiresEndpoints(t *testing.T) {
	if _, err := NewPool(PoolConfig{}, slog.Default()); err == nil {
		t.Fatal("expected error for empty endpoint list")
	}
}
