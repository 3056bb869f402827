package plugin_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/plugin"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/types"
)

type purchaseCounter struct {
	name  string
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (p *purchaseCounter) Name() string { return p.name }

func (p *purchaseCounter) OnPurchased(_ context.Context, _ *purchase.Purchase, _ *ledger.Entry) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.calls.Add(1)
	return p.err
}

type nameOnly struct{}

func (nameOnly) Name() string { return "bare" }

func newRegistry() *plugin.Registry {
	return plugin.NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistryRegister(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register(&purchaseCounter{name: "a"}))
	require.NoError(t, r.Register(nameOnly{}))

	err := r.Register(&purchaseCounter{name: "a"})
	assert.Error(t, err, "duplicate names are rejected")

	assert.Equal(t, 2, r.Count())
	assert.NotNil(t, r.Get("bare"))
	assert.Nil(t, r.Get("missing"))
	assert.Len(t, r.List(), 2)
}

func TestRegistryDispatchesOnlyToImplementers(t *testing.T) {
	r := newRegistry()
	a := &purchaseCounter{name: "a"}
	b := &purchaseCounter{name: "b", err: errors.New("boom")}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.NoError(t, r.Register(nameOnly{}))

	entry := ledger.NewEntry(ledger.KindPPV, "fan", "creator", types.USD(100), "post", time.Now())
	p := purchase.New("fan", "post", purchase.ContentPost, types.USD(100), time.Now())

	r.EmitPurchased(context.Background(), p, entry)
	r.EmitTipped(context.Background(), entry)

	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load(), "a failing plugin still ran")
}

func TestRegistryHookTimeout(t *testing.T) {
	r := newRegistry().WithTimeout(10 * time.Millisecond)
	slow := &purchaseCounter{name: "slow", delay: 200 * time.Millisecond}
	require.NoError(t, r.Register(slow))

	start := time.Now()
	r.EmitPurchased(context.Background(), &purchase.Purchase{}, &ledger.Entry{})
	assert.Less(t, time.Since(start), 150*time.Millisecond, "emit does not wait for a stuck plugin")
}
