// Package postgres implements store.Store on PostgreSQL through pgx.
//
// Uniqueness rules live in partial unique indexes: one live subscription
// per (user, creator), one purchase per (user, content), one PENDING entry
// per lock key and one entry per (payer, idempotency key). Commit methods
// settle the entry and write the registry in a single transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/store"
	"github.com/xraph/paywall/subscription"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

var (
	tracer = otel.Tracer("github.com/xraph/paywall/store/postgres")
	psql   = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements store.Store using PostgreSQL.
type Store struct {
	db     DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps an open pool.
func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects a pool to dsn and checks it.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("paywall/postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("paywall/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("paywall/postgres: ping: %w", err)
	}
	return New(pool, opts...), nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription, now time.Time) (err error) {
	ctx, span := startSpan(ctx, "INSERT", subscriptionsTable)
	defer func() { endSpan(span, err) }()

	return s.inTx(ctx, func(tx pgx.Tx) error {
		return insertSubscription(ctx, tx, sub, now)
	})
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (sub *subscription.Subscription, err error) {
	ctx, span := startSpan(ctx, "SELECT", subscriptionsTable)
	defer func() { endSpan(span, err) }()

	sub, err = scanSubscription(s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM `+subscriptionsTable+` WHERE id = $1`,
		subID.String(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subscription.ErrNotFound
	}
	return sub, err
}

func (s *Store) LatestSubscription(ctx context.Context, userID, creatorID string) (sub *subscription.Subscription, err error) {
	ctx, span := startSpan(ctx, "SELECT", subscriptionsTable)
	defer func() { endSpan(span, err) }()

	return latestSubscription(ctx, s.db, userID, creatorID, false)
}

func (s *Store) CancelSubscription(ctx context.Context, userID, creatorID string, now time.Time) (sub *subscription.Subscription, err error) {
	ctx, span := startSpan(ctx, "UPDATE", subscriptionsTable)
	defer func() { endSpan(span, err) }()

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := latestSubscription(ctx, tx, userID, creatorID, true)
		if err != nil {
			return err
		}
		if !current.IsLive() || !current.IsActiveAt(now) {
			return subscription.ErrNotFound
		}
		if current.MarkCancelled(now) {
			if err := updateSubscription(ctx, tx, current); err != nil {
				return err
			}
		}
		sub = current
		return nil
	})
	return sub, err
}

func (s *Store) ExtendSubscription(ctx context.Context, userID, creatorID string, extension time.Duration, now time.Time) (sub *subscription.Subscription, err error) {
	ctx, span := startSpan(ctx, "UPDATE", subscriptionsTable)
	defer func() { endSpan(span, err) }()

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		sub, err = extendSubscription(ctx, tx, userID, creatorID, extension, now, false)
		return err
	})
	return sub, err
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) (subs []*subscription.Subscription, err error) {
	ctx, span := startSpan(ctx, "SELECT", subscriptionsTable)
	defer func() { endSpan(span, err) }()

	q := psql.Select(subscriptionColumns).From(subscriptionsTable)
	if opts.UserID != "" {
		q = q.Where(sq.Eq{"user_id": opts.UserID})
	}
	if opts.CreatorID != "" {
		q = q.Where(sq.Eq{"creator_id": opts.CreatorID})
	}
	if !opts.ActiveAt.IsZero() {
		q = q.Where(sq.Gt{"expires_at": opts.ActiveAt})
	}
	q = page(q.OrderBy("created_at DESC", "id DESC"), opts.Offset, opts.Limit)

	return queryAll(ctx, s.db, q, scanSubscription)
}

func insertSubscription(ctx context.Context, q querier, sub *subscription.Subscription, now time.Time) error {
	// Stale live rows no longer count toward the one-live-per-pair index.
	_, err := q.Exec(ctx,
		`UPDATE `+subscriptionsTable+` SET status = 'EXPIRED', updated_at = $3
		WHERE user_id = $1 AND creator_id = $2 AND status IN `+liveStatuses+` AND expires_at <= $3`,
		sub.UserID, sub.CreatorID, now,
	)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx,
		`INSERT INTO `+subscriptionsTable+` (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		subscriptionArgs(sub)...,
	)
	return mapErr(err)
}

func latestSubscription(ctx context.Context, q querier, userID, creatorID string, forUpdate bool) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM ` + subscriptionsTable + `
		WHERE user_id = $1 AND creator_id = $2
		ORDER BY expires_at DESC LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	sub, err := scanSubscription(q.QueryRow(ctx, query, userID, creatorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subscription.ErrNotFound
	}
	return sub, err
}

// extendSubscription extends the pair's latest record. A renewal is
// refused while the record is cancelled but still running.
func extendSubscription(ctx context.Context, tx pgx.Tx, userID, creatorID string, extension time.Duration, now time.Time, renewal bool) (*subscription.Subscription, error) {
	sub, err := latestSubscription(ctx, tx, userID, creatorID, true)
	if err != nil {
		return nil, err
	}
	if renewal {
		if err := sub.CheckRenewable(now); err != nil {
			return nil, err
		}
	}

	reactivated := sub.StatusAt(now) == subscription.StatusExpired
	sub.Extend(extension, now)
	if reactivated {
		_, err := tx.Exec(ctx,
			`UPDATE `+subscriptionsTable+` SET status = 'EXPIRED', updated_at = $4
			WHERE user_id = $1 AND creator_id = $2 AND id <> $3 AND status IN `+liveStatuses,
			userID, creatorID, sub.ID.String(), now,
		)
		if err != nil {
			return nil, err
		}
	}
	if err := updateSubscription(ctx, tx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func updateSubscription(ctx context.Context, q querier, sub *subscription.Subscription) error {
	_, err := q.Exec(ctx,
		`UPDATE `+subscriptionsTable+`
		SET status = $2, expires_at = $3, canceled_at = $4, updated_at = $5
		WHERE id = $1`,
		sub.ID.String(), string(sub.Status), sub.ExpiresAt, sub.CanceledAt, sub.UpdatedAt,
	)
	return mapErr(err)
}

// ==================== Purchase Store ====================

func (s *Store) CreatePurchase(ctx context.Context, p *purchase.Purchase) (err error) {
	ctx, span := startSpan(ctx, "INSERT", purchasesTable)
	defer func() { endSpan(span, err) }()

	return insertPurchase(ctx, s.db, p)
}

func (s *Store) GetPurchase(ctx context.Context, userID string, contentType purchase.ContentType, contentID string) (p *purchase.Purchase, err error) {
	ctx, span := startSpan(ctx, "SELECT", purchasesTable)
	defer func() { endSpan(span, err) }()

	p, err = scanPurchase(s.db.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM `+purchasesTable+` WHERE user_id = $1 AND content_type = $2 AND content_id = $3`,
		userID, string(contentType), contentID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, purchase.ErrNotFound
	}
	return p, err
}

func (s *Store) ListPurchases(ctx context.Context, userID string, opts purchase.ListOpts) (ps []*purchase.Purchase, err error) {
	ctx, span := startSpan(ctx, "SELECT", purchasesTable)
	defer func() { endSpan(span, err) }()

	q := psql.Select(purchaseColumns).From(purchasesTable).Where(sq.Eq{"user_id": userID})
	if opts.ContentType != "" {
		q = q.Where(sq.Eq{"content_type": string(opts.ContentType)})
	}
	q = page(q.OrderBy("purchased_at DESC", "id DESC"), opts.Offset, opts.Limit)

	return queryAll(ctx, s.db, q, scanPurchase)
}

func insertPurchase(ctx context.Context, q querier, p *purchase.Purchase) error {
	_, err := q.Exec(ctx,
		`INSERT INTO `+purchasesTable+` (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		purchaseArgs(p)...,
	)
	return mapErr(err)
}

// ==================== Ledger Store ====================

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) (err error) {
	ctx, span := startSpan(ctx, "INSERT", entriesTable)
	defer func() { endSpan(span, err) }()

	args, err := entryArgs(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO `+entriesTable+` (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		args...,
	)
	return mapErr(err)
}

func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (e *ledger.Entry, err error) {
	ctx, span := startSpan(ctx, "SELECT", entriesTable)
	defer func() { endSpan(span, err) }()

	e, err = scanEntry(s.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM `+entriesTable+` WHERE id = $1`,
		entryID.String(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	return e, err
}

func (s *Store) GetEntryByIdempotencyKey(ctx context.Context, payerID, key string) (e *ledger.Entry, err error) {
	ctx, span := startSpan(ctx, "SELECT", entriesTable)
	defer func() { endSpan(span, err) }()

	if key == "" {
		return nil, ledger.ErrNotFound
	}
	e, err = scanEntry(s.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM `+entriesTable+` WHERE payer_user_id = $1 AND idempotency_key = $2`,
		payerID, key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	return e, err
}

func (s *Store) CompleteEntry(ctx context.Context, entryID id.EntryID, chargeID string, now time.Time) (e *ledger.Entry, err error) {
	ctx, span := startSpan(ctx, "UPDATE", entriesTable)
	defer func() { endSpan(span, err) }()

	return settleEntry(ctx, s.db, entryID, ledger.StatusCompleted, chargeID, "", now)
}

func (s *Store) FailEntry(ctx context.Context, entryID id.EntryID, reason, chargeID string, now time.Time) (e *ledger.Entry, err error) {
	ctx, span := startSpan(ctx, "UPDATE", entriesTable)
	defer func() { endSpan(span, err) }()

	return settleEntry(ctx, s.db, entryID, ledger.StatusFailed, chargeID, reason, now)
}

func (s *Store) ListEntries(ctx context.Context, opts ledger.ListOpts) (entries []*ledger.Entry, err error) {
	ctx, span := startSpan(ctx, "SELECT", entriesTable)
	defer func() { endSpan(span, err) }()

	q := psql.Select(entryColumns).From(entriesTable)
	if opts.PayerUserID != "" {
		q = q.Where(sq.Eq{"payer_user_id": opts.PayerUserID})
	}
	if opts.PayeeCreatorID != "" {
		q = q.Where(sq.Eq{"payee_creator_id": opts.PayeeCreatorID})
	}
	if opts.Kind != "" {
		q = q.Where(sq.Eq{"kind": string(opts.Kind)})
	}
	if opts.Status != "" {
		q = q.Where(sq.Eq{"status": string(opts.Status)})
	}
	if !opts.CreatedBefore.IsZero() {
		q = q.Where(sq.Lt{"created_at": opts.CreatedBefore})
	}
	q = page(q.OrderBy("created_at DESC", "id DESC"), opts.Offset, opts.Limit)

	return queryAll(ctx, s.db, q, scanEntry)
}

func (s *Store) SumEntries(ctx context.Context, payeeID string, since time.Time) (totals []ledger.Total, err error) {
	ctx, span := startSpan(ctx, "SELECT", entriesTable)
	defer func() { endSpan(span, err) }()

	q := psql.Select("kind", "currency", "SUM(amount)::BIGINT", "COUNT(*)").
		From(entriesTable).
		Where(sq.Eq{"payee_creator_id": payeeID, "status": string(ledger.StatusCompleted)})
	if !since.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": since})
	}
	q = q.GroupBy("kind", "currency").OrderBy("kind", "currency")

	return queryAll(ctx, s.db, q, func(row pgx.Row) (ledger.Total, error) {
		var (
			t        ledger.Total
			kind     string
			currency string
		)
		if err := row.Scan(&kind, &currency, &t.Amount.Amount, &t.Count); err != nil {
			return t, err
		}
		t.Kind = ledger.Kind(kind)
		t.Amount.Currency = currency
		return t, nil
	})
}

// settleEntry moves a PENDING entry to status. It fails with
// ledger.ErrNotPending when the entry was already settled.
func settleEntry(ctx context.Context, q querier, entryID id.EntryID, status ledger.Status, chargeID, reason string, now time.Time) (*ledger.Entry, error) {
	e, err := scanEntry(q.QueryRow(ctx,
		`UPDATE `+entriesTable+`
		SET status = $2, charge_id = COALESCE(NULLIF($3, ''), charge_id), failure_reason = $4, settled_at = $5
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+entryColumns,
		entryID.String(), string(status), chargeID, reason, now.UTC(),
	))
	if !errors.Is(err, pgx.ErrNoRows) {
		return e, err
	}

	var current string
	err = q.QueryRow(ctx, `SELECT status FROM `+entriesTable+` WHERE id = $1`, entryID.String()).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s is %s", ledger.ErrNotPending, entryID, current)
}

// ==================== Commits ====================

func (s *Store) CommitSubscription(ctx context.Context, entryID id.EntryID, chargeID string, sub *subscription.Subscription, now time.Time) (err error) {
	ctx, span := startSpan(ctx, "COMMIT", subscriptionsTable)
	defer func() { endSpan(span, err) }()

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := settleEntry(ctx, tx, entryID, ledger.StatusCompleted, chargeID, "", now); err != nil {
			return err
		}
		return insertSubscription(ctx, tx, sub, now)
	})
}

func (s *Store) CommitRenewal(ctx context.Context, entryID id.EntryID, chargeID, userID, creatorID string, extension time.Duration, now time.Time) (sub *subscription.Subscription, err error) {
	ctx, span := startSpan(ctx, "COMMIT", subscriptionsTable)
	defer func() { endSpan(span, err) }()

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := settleEntry(ctx, tx, entryID, ledger.StatusCompleted, chargeID, "", now); err != nil {
			return err
		}
		sub, err = extendSubscription(ctx, tx, userID, creatorID, extension, now, true)
		return err
	})
	return sub, err
}

func (s *Store) CommitPurchase(ctx context.Context, entryID id.EntryID, chargeID string, p *purchase.Purchase, now time.Time) (err error) {
	ctx, span := startSpan(ctx, "COMMIT", purchasesTable)
	defer func() { endSpan(span, err) }()

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := settleEntry(ctx, tx, entryID, ledger.StatusCompleted, chargeID, "", now); err != nil {
			return err
		}
		return insertPurchase(ctx, tx, p)
	})
}

// ==================== Helpers ====================

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("paywall/postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("paywall/postgres: commit: %w", mapErr(err))
	}
	return nil
}

func queryAll[T any](ctx context.Context, q querier, b sq.SelectBuilder, scan func(pgx.Row) (T, error)) ([]T, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("paywall/postgres: build query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func page(b sq.SelectBuilder, offset, limit int) sq.SelectBuilder {
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}
	return b
}

// mapErr turns unique violations into the domain conflict they stand for.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch {
	case pgErr.ConstraintName == idxSubscriptionLive:
		return subscription.ErrDuplicateActive
	case pgErr.ConstraintName == idxPurchaseUnique:
		return purchase.ErrAlreadyPurchased
	case pgErr.ConstraintName == idxEntryPendingLock:
		return ledger.ErrInFlight
	case pgErr.ConstraintName == idxEntryIdempotency:
		return ledger.ErrDuplicateRequest
	case pgErr.ConstraintName == idxEntryRefundOf:
		return ledger.ErrAlreadyRefunded
	case strings.HasSuffix(pgErr.ConstraintName, "_pkey"):
		return fmt.Errorf("paywall/postgres: duplicate id: %w", err)
	}
	return err
}

func startSpan(ctx context.Context, op, table string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "postgres."+op+" "+table, trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", op),
		attribute.String("db.sql.table", table),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
