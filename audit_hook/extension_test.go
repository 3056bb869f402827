package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall"
	audithook "github.com/xraph/paywall/audit_hook"
	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/store/memory"
	"github.com/xraph/paywall/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type trail struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (tr *trail) Record(_ context.Context, evt *audithook.AuditEvent) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, evt)
	return nil
}

func (tr *trail) actions() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, len(tr.events))
	for i, e := range tr.events {
		out[i] = e.Action
	}
	return out
}

func (tr *trail) last() *audithook.AuditEvent {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.events[len(tr.events)-1]
}

func newEngine(t *testing.T, ext *audithook.Extension) (*paywall.Engine, *charge.Simulator) {
	t.Helper()
	sim := charge.NewSimulator()
	cat := catalog.NewStatic()
	cat.SetTerms("creator", catalog.Terms{Price: types.USD(999), PeriodDays: 30, Enabled: true})
	e := paywall.New(memory.New(), sim, cat,
		paywall.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		paywall.WithPlugin(ext),
	)
	return e, sim
}

func TestRecordsMonetizationEvents(t *testing.T) {
	ctx := context.Background()
	tr := &trail{}
	e, _ := newEngine(t, audithook.New(tr))

	price := types.USD(500)
	post := content.Post("post-1", "creator", content.VisibilityPaid, &price)

	_, err := e.Access(ctx, "fan", post, now)
	require.NoError(t, err)
	p, err := e.UnlockPPV(ctx, "fan", post, now)
	require.NoError(t, err)
	_, err = e.Subscribe(ctx, "fan", "creator", now)
	require.NoError(t, err)
	_, err = e.Cancel(ctx, "fan", "creator", now)
	require.NoError(t, err)
	_, err = e.Tip(ctx, "fan", "creator", types.USD(300), now)
	require.NoError(t, err)

	assert.Equal(t, []string{
		audithook.ActionAccessDenied,
		audithook.ActionContentUnlocked,
		audithook.ActionSubscriptionCreated,
		audithook.ActionSubscriptionCanceled,
		audithook.ActionTipSent,
	}, tr.actions())

	tr.mu.Lock()
	unlocked := tr.events[1]
	tr.mu.Unlock()
	assert.Equal(t, p.ID.String(), unlocked.ResourceID)
	assert.Equal(t, "fan", unlocked.ActorID)
	assert.Equal(t, "post-1", unlocked.Metadata["content_id"])
}

func TestRecordsPaymentFailure(t *testing.T) {
	ctx := context.Background()
	tr := &trail{}
	e, sim := newEngine(t, audithook.New(tr))
	sim.DeclinePayer("fan", "card_declined")

	_, err := e.Tip(ctx, "fan", "creator", types.USD(300), now)
	require.Error(t, err)

	evt := tr.last()
	assert.Equal(t, audithook.ActionPaymentFailed, evt.Action)
	assert.Equal(t, audithook.OutcomeFailure, evt.Outcome)
	assert.Equal(t, audithook.SeverityWarning, evt.Severity)
	assert.NotEmpty(t, evt.Reason)
}

func TestEnabledActionsFilter(t *testing.T) {
	ctx := context.Background()
	tr := &trail{}
	e, _ := newEngine(t, audithook.New(tr, audithook.WithEnabledActions(audithook.ActionTipSent)))

	_, err := e.Subscribe(ctx, "fan", "creator", now)
	require.NoError(t, err)
	_, err = e.Tip(ctx, "fan", "creator", types.USD(300), now)
	require.NoError(t, err)

	assert.Equal(t, []string{audithook.ActionTipSent}, tr.actions())
}

func TestDisabledActionsFilter(t *testing.T) {
	ctx := context.Background()
	tr := &trail{}
	e, _ := newEngine(t, audithook.New(tr, audithook.WithDisabledActions(audithook.ActionAccessDenied)))

	subsOnly := content.Post("post-2", "creator", content.VisibilitySubscribers, nil)
	_, err := e.Access(ctx, "fan", subsOnly, now)
	require.NoError(t, err)
	assert.Empty(t, tr.actions())
}

func TestRecorderErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	failing := audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("audit store down")
	})
	e, _ := newEngine(t, audithook.New(failing, audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))))

	_, err := e.Tip(ctx, "fan", "creator", types.USD(300), now)
	assert.NoError(t, err)
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := context.Background()
	e, sim := newEngine(t, audithook.New(audithook.LogRecorder(logger)))
	sim.DeclinePayer("fan", "card_declined")

	_, err := e.Tip(ctx, "fan", "creator", types.USD(300), now)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"action":"`+audithook.ActionPaymentFailed+`"`)
	assert.Contains(t, out, `"actor_id":"fan"`)
}
