package observability_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall"
	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/observability"
	"github.com/xraph/paywall/store/memory"
	"github.com/xraph/paywall/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, reg *prometheus.Registry) (*paywall.Engine, *charge.Simulator) {
	t.Helper()
	sim := charge.NewSimulator()
	cat := catalog.NewStatic()
	cat.SetTerms("creator", catalog.Terms{Price: types.USD(999), PeriodDays: 30, Enabled: true})
	ext := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))
	e := paywall.New(memory.New(), sim, cat,
		paywall.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		paywall.WithPlugin(ext),
	)
	return e, sim
}

func TestMetricsFollowEngineEvents(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	e, sim := newEngine(t, reg)

	price := types.USD(500)
	post := content.Post("post-1", "creator", content.VisibilityPaid, &price)

	_, err := e.Access(ctx, "fan", post, now)
	require.NoError(t, err)
	_, err = e.UnlockPPV(ctx, "fan", post, now)
	require.NoError(t, err)
	_, err = e.Access(ctx, "fan", post, now)
	require.NoError(t, err)
	_, err = e.Subscribe(ctx, "fan", "creator", now)
	require.NoError(t, err)

	sim.DeclinePayer("fan", "card_declined")
	_, err = e.Tip(ctx, "fan", "creator", types.USD(300), now)
	require.Error(t, err)

	expected := `
# HELP paywall_access_checks_total Count of paywall.access.checks events.
# TYPE paywall_access_checks_total counter
paywall_access_checks_total 2
# HELP paywall_access_denied_total Count of paywall.access.denied events.
# TYPE paywall_access_denied_total counter
paywall_access_denied_total 1
# HELP paywall_access_granted_total Count of paywall.access.granted events.
# TYPE paywall_access_granted_total counter
paywall_access_granted_total 1
# HELP paywall_payment_failed_total Count of paywall.payment.failed events.
# TYPE paywall_payment_failed_total counter
paywall_payment_failed_total 1
# HELP paywall_ppv_unlocked_total Count of paywall.ppv.unlocked events.
# TYPE paywall_ppv_unlocked_total counter
paywall_ppv_unlocked_total 1
# HELP paywall_subscription_created_total Count of paywall.subscription.created events.
# TYPE paywall_subscription_created_total counter
paywall_subscription_created_total 1
# HELP paywall_tips_received_total Count of paywall.tips.received events.
# TYPE paywall_tips_received_total counter
paywall_tips_received_total 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"paywall_access_checks_total",
		"paywall_access_denied_total",
		"paywall_access_granted_total",
		"paywall_payment_failed_total",
		"paywall_ppv_unlocked_total",
		"paywall_subscription_created_total",
		"paywall_tips_received_total",
	))

	count, err := testutil.GatherAndCount(reg, "paywall_payment_amount_minor")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	a := f.Counter("paywall.tips.received")
	b := f.Counter("paywall.tips.received")
	a.Inc()
	b.Add(2)

	c, ok := a.(prometheus.Counter)
	require.True(t, ok)
	assert.InDelta(t, 3.0, testutil.ToFloat64(c), 0.0001)
}

func TestPrometheusFactoryAdoptsRegisteredCollector(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := observability.NewPrometheusFactory(reg).Counter("paywall.payment.refunds")
	second := observability.NewPrometheusFactory(reg).Counter("paywall.payment.refunds")
	first.Inc()
	second.Inc()

	c, ok := second.(prometheus.Counter)
	require.True(t, ok)
	assert.InDelta(t, 2.0, testutil.ToFloat64(c), 0.0001)
}
