package postgres_test

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/store/postgres"
	"github.com/xraph/paywall/subscription"
	"github.com/xraph/paywall/types"
)

var (
	now          = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	entryColumns = []string{
		"id", "payer_user_id", "payee_creator_id", "amount", "currency", "kind", "status",
		"related_entity_id", "charge_id", "idempotency_key", "lock_key", "failure_reason",
		"refund_of", "metadata", "created_at", "settled_at",
	}
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *postgres.Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, postgres.New(mock)
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func uniqueViolation(index string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: index}
}

func entryRow(mock pgxmock.PgxPoolIface, entryID id.EntryID, status ledger.Status, settledAt *time.Time) *pgxmock.Rows {
	return mock.NewRows(entryColumns).AddRow(
		entryID.String(), "fan", "creator", int64(999), "usd", "PPV", string(status),
		"post-1", "ch_1", "", "unlock:fan:POST:post-1", "",
		nil, []byte(`{"contentType":"POST"}`), now, settledAt,
	)
}

func TestAppendEntryMapsUniqueViolations(t *testing.T) {
	tests := []struct {
		index string
		want  error
	}{
		{"paywall_entries_pending_lock", ledger.ErrInFlight},
		{"paywall_entries_idempotency", ledger.ErrDuplicateRequest},
		{"paywall_entries_refund_of", ledger.ErrAlreadyRefunded},
	}
	for _, tt := range tests {
		t.Run(tt.index, func(t *testing.T) {
			mock, s := newMock(t)
			mock.ExpectExec("INSERT INTO paywall_entries").
				WithArgs(anyArgs(16)...).
				WillReturnError(uniqueViolation(tt.index))

			e := ledger.NewEntry(ledger.KindTip, "fan", "creator", types.USD(100), "", now)
			err := s.AppendEntry(context.Background(), e)
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetEntry(t *testing.T) {
	mock, s := newMock(t)
	entryID := id.NewEntryID()
	settled := now.Add(time.Second)

	mock.ExpectQuery("SELECT (.+) FROM paywall_entries WHERE id").
		WithArgs(entryID.String()).
		WillReturnRows(entryRow(mock, entryID, ledger.StatusCompleted, &settled))

	e, err := s.GetEntry(context.Background(), entryID)
	require.NoError(t, err)
	assert.Equal(t, entryID, e.ID)
	assert.Equal(t, types.USD(999), e.Amount)
	assert.Equal(t, ledger.KindPPV, e.Kind)
	assert.Equal(t, ledger.StatusCompleted, e.Status)
	assert.Equal(t, "POST", e.Metadata["contentType"])
	assert.True(t, e.RefundOf.IsNil())
	require.NotNil(t, e.SettledAt)
	assert.Equal(t, settled, *e.SettledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntryNotFound(t *testing.T) {
	mock, s := newMock(t)
	entryID := id.NewEntryID()

	mock.ExpectQuery("SELECT (.+) FROM paywall_entries WHERE id").
		WithArgs(entryID.String()).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetEntry(context.Background(), entryID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCompleteEntryAlreadySettled(t *testing.T) {
	mock, s := newMock(t)
	entryID := id.NewEntryID()

	mock.ExpectQuery("UPDATE paywall_entries").
		WithArgs(entryID.String(), "COMPLETED", "ch_1", "", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM paywall_entries").
		WithArgs(entryID.String()).
		WillReturnRows(mock.NewRows([]string{"status"}).AddRow("FAILED"))

	_, err := s.CompleteEntry(context.Background(), entryID, "ch_1", now)
	assert.ErrorIs(t, err, ledger.ErrNotPending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitPurchase(t *testing.T) {
	mock, s := newMock(t)
	entryID := id.NewEntryID()
	p := purchase.New("fan", "post-1", purchase.ContentPost, types.USD(999), now)
	p.EntryID = entryID

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE paywall_entries").
		WithArgs(entryID.String(), "COMPLETED", "ch_1", "", pgxmock.AnyArg()).
		WillReturnRows(entryRow(mock, entryID, ledger.StatusCompleted, &now))
	mock.ExpectExec("INSERT INTO paywall_purchases").
		WithArgs(p.ID.String(), "fan", "post-1", "POST", int64(999), "usd", pgxmock.AnyArg(), p.PurchasedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CommitPurchase(context.Background(), entryID, "ch_1", p, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitPurchaseConflictRollsBack(t *testing.T) {
	mock, s := newMock(t)
	entryID := id.NewEntryID()
	p := purchase.New("fan", "post-1", purchase.ContentPost, types.USD(999), now)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE paywall_entries").
		WithArgs(entryID.String(), "COMPLETED", "ch_1", "", pgxmock.AnyArg()).
		WillReturnRows(entryRow(mock, entryID, ledger.StatusCompleted, &now))
	mock.ExpectExec("INSERT INTO paywall_purchases").
		WithArgs(anyArgs(8)...).
		WillReturnError(uniqueViolation("paywall_purchases_user_content"))
	mock.ExpectRollback()

	err := s.CommitPurchase(context.Background(), entryID, "ch_1", p, now)
	assert.ErrorIs(t, err, purchase.ErrAlreadyPurchased)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSubscriptionDemotesStaleRows(t *testing.T) {
	mock, s := newMock(t)
	sub := subscription.New("fan", "creator", 30, now)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE paywall_subscriptions SET status = 'EXPIRED'").
		WithArgs("fan", "creator", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO paywall_subscriptions").
		WithArgs(anyArgs(11)...).
		WillReturnError(uniqueViolation("paywall_subscriptions_live"))
	mock.ExpectRollback()

	err := s.CreateSubscription(context.Background(), sub, now)
	assert.ErrorIs(t, err, subscription.ErrDuplicateActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEntriesFilters(t *testing.T) {
	mock, s := newMock(t)
	entryID := id.NewEntryID()
	cutoff := now.Add(-2 * time.Minute)

	mock.ExpectQuery(`FROM paywall_entries WHERE status = \$1 AND created_at < \$2 ORDER BY created_at DESC, id DESC LIMIT 10`).
		WithArgs("PENDING", cutoff).
		WillReturnRows(entryRow(mock, entryID, ledger.StatusPending, nil))

	entries, err := s.ListEntries(context.Background(), ledger.ListOpts{
		Status:        ledger.StatusPending,
		CreatedBefore: cutoff,
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].SettledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSumEntries(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectQuery(`SELECT kind, currency, SUM\(amount\)::BIGINT, COUNT\(\*\) FROM paywall_entries`).
		WithArgs("creator", "COMPLETED").
		WillReturnRows(mock.NewRows([]string{"kind", "currency", "sum", "count"}).
			AddRow("PPV", "usd", int64(1998), int64(2)).
			AddRow("TIP", "usd", int64(500), int64(1)))

	totals, err := s.SumEntries(context.Background(), "creator", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []ledger.Total{
		{Kind: ledger.KindPPV, Amount: types.USD(1998), Count: 2},
		{Kind: ledger.KindTip, Amount: types.USD(500), Count: 1},
	}, totals)
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(postgres.Migrations(), "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	raw, err := fs.ReadFile(postgres.Migrations(), files[0])
	require.NoError(t, err)
	sql := string(raw)
	assert.True(t, strings.HasPrefix(sql, "-- +goose Up"))
	for _, index := range []string{
		"paywall_subscriptions_live",
		"paywall_purchases_user_content",
		"paywall_entries_pending_lock",
		"paywall_entries_idempotency",
		"paywall_entries_refund_of",
	} {
		assert.Contains(t, sql, index)
	}
}

func TestMigrateNeedsPool(t *testing.T) {
	_, s := newMock(t)
	assert.Error(t, s.Migrate(context.Background()))
}
