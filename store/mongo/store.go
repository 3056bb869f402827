// Package mongo implements store.Store on MongoDB. Commit methods run in
// multi-document transactions, so the server must be a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/store"
	"github.com/xraph/paywall/subscription"
	"github.com/xraph/paywall/types"
)

// Collection name constants.
const (
	colSubscriptions = "paywall_subscriptions"
	colPurchases     = "paywall_purchases"
	colEntries       = "paywall_entries"
)

// Unique index names, used to tell duplicate key errors apart.
const (
	idxSubscriptionLive = "paywall_subscriptions_live"
	idxPurchaseUnique   = "paywall_purchases_user_content"
	idxEntryIdempotency = "paywall_entries_idempotency"
	idxEntryPendingLock = "paywall_entries_pending_lock"
	idxEntryRefundOf    = "paywall_entries_refund_of"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using the official MongoDB driver.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps a connected client and uses the named database.
func New(client *mongo.Client, database string, opts ...Option) *Store {
	s := &Store{
		client: client,
		db:     client.Database(database),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to uri and checks the connection.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("paywall/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("paywall/mongo: ping: %w", err)
	}
	return New(client, database, opts...), nil
}

// Migrate creates indexes for all paywall collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		names, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("paywall/mongo: migrate %s indexes: %w", col, err)
		}
		s.logger.Info("indexes ensured", "collection", col, "indexes", names)
	}
	return nil
}

// Truncate empties every paywall collection. Meant for test setup.
func (s *Store) Truncate(ctx context.Context) error {
	for _, col := range []string{colSubscriptions, colPurchases, colEntries} {
		if _, err := s.db.Collection(col).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("paywall/mongo: truncate %s: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription, now time.Time) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		return s.insertSubscription(ctx, sub, now)
	})
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.db.Collection(colSubscriptions).FindOne(ctx, bson.M{"_id": subID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("paywall/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) LatestSubscription(ctx context.Context, userID, creatorID string) (*subscription.Subscription, error) {
	return s.latestSubscription(ctx, userID, creatorID)
}

func (s *Store) CancelSubscription(ctx context.Context, userID, creatorID string, now time.Time) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.db.Collection(colSubscriptions).FindOneAndUpdate(ctx,
		bson.M{
			"user_id":    userID,
			"creator_id": creatorID,
			"status":     string(subscription.StatusActive),
			"expires_at": bson.M{"$gt": now},
		},
		bson.M{"$set": bson.M{
			"status":      string(subscription.StatusCancelled),
			"canceled_at": now.UTC(),
			"updated_at":  now.UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return fromSubscriptionModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("paywall/mongo: cancel subscription: %w", err)
	}

	// Already cancelled is not an error as long as access remains.
	sub, err := s.latestSubscription(ctx, userID, creatorID)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscription.StatusCancelled || !sub.IsActiveAt(now) {
		return nil, subscription.ErrNotFound
	}
	return sub, nil
}

func (s *Store) ExtendSubscription(ctx context.Context, userID, creatorID string, extension time.Duration, now time.Time) (*subscription.Subscription, error) {
	var sub *subscription.Subscription
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		sub, err = s.extendSubscription(ctx, userID, creatorID, extension, now, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := bson.M{}
	if opts.UserID != "" {
		filter["user_id"] = opts.UserID
	}
	if opts.CreatorID != "" {
		filter["creator_id"] = opts.CreatorID
	}
	if !opts.ActiveAt.IsZero() {
		filter["expires_at"] = bson.M{"$gt": opts.ActiveAt}
	}

	var models []subscriptionModel
	if err := s.findAll(ctx, colSubscriptions, filter, newestFirst(opts.Limit, opts.Offset), &models); err != nil {
		return nil, fmt.Errorf("paywall/mongo: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) insertSubscription(ctx context.Context, sub *subscription.Subscription, now time.Time) error {
	// Stale live records give up their slot in the unique index.
	if err := s.demoteLive(ctx, sub.UserID, sub.CreatorID, bson.M{"expires_at": bson.M{"$lte": now}}, now); err != nil {
		return err
	}
	if _, err := s.db.Collection(colSubscriptions).InsertOne(ctx, toSubscriptionModel(sub)); err != nil {
		return mapWriteErr("create subscription", err)
	}
	return nil
}

func (s *Store) extendSubscription(ctx context.Context, userID, creatorID string, extension time.Duration, now time.Time, renewal bool) (*subscription.Subscription, error) {
	sub, err := s.latestSubscription(ctx, userID, creatorID)
	if err != nil {
		return nil, err
	}
	if renewal {
		if err := sub.CheckRenewable(now); err != nil {
			return nil, err
		}
	}
	reactivating := sub.StatusAt(now) == subscription.StatusExpired
	sub.Extend(extension, now)

	if reactivating {
		if err := s.demoteLive(ctx, userID, creatorID, bson.M{"_id": bson.M{"$ne": sub.ID.String()}}, now); err != nil {
			return nil, err
		}
	}
	_, err = s.db.Collection(colSubscriptions).ReplaceOne(ctx, bson.M{"_id": sub.ID.String()}, toSubscriptionModel(sub))
	if err != nil {
		return nil, mapWriteErr("extend subscription", err)
	}
	return sub, nil
}

func (s *Store) latestSubscription(ctx context.Context, userID, creatorID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.db.Collection(colSubscriptions).FindOne(ctx,
		bson.M{"user_id": userID, "creator_id": creatorID},
		options.FindOne().SetSort(bson.D{{Key: "expires_at", Value: -1}}),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("paywall/mongo: latest subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) demoteLive(ctx context.Context, userID, creatorID string, extra bson.M, now time.Time) error {
	filter := bson.M{"user_id": userID, "creator_id": creatorID, "live": true}
	for k, v := range extra {
		filter[k] = v
	}
	_, err := s.db.Collection(colSubscriptions).UpdateMany(ctx, filter, bson.M{
		"$set":   bson.M{"status": string(subscription.StatusExpired), "updated_at": now.UTC()},
		"$unset": bson.M{"live": ""},
	})
	if err != nil {
		return fmt.Errorf("paywall/mongo: demote subscriptions: %w", err)
	}
	return nil
}

// ==================== Purchase Store ====================

func (s *Store) CreatePurchase(ctx context.Context, p *purchase.Purchase) error {
	if _, err := s.db.Collection(colPurchases).InsertOne(ctx, toPurchaseModel(p)); err != nil {
		return mapWriteErr("create purchase", err)
	}
	return nil
}

func (s *Store) GetPurchase(ctx context.Context, userID string, contentType purchase.ContentType, contentID string) (*purchase.Purchase, error) {
	var m purchaseModel
	filter := bson.M{"user_id": userID, "content_type": string(contentType), "content_id": contentID}
	err := s.db.Collection(colPurchases).FindOne(ctx, filter).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, purchase.ErrNotFound
		}
		return nil, fmt.Errorf("paywall/mongo: get purchase: %w", err)
	}
	return fromPurchaseModel(&m)
}

func (s *Store) ListPurchases(ctx context.Context, userID string, opts purchase.ListOpts) ([]*purchase.Purchase, error) {
	filter := bson.M{"user_id": userID}
	if opts.ContentType != "" {
		filter["content_type"] = string(opts.ContentType)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "purchased_at", Value: -1}, {Key: "_id", Value: -1}})
	paginate(findOpts, opts.Limit, opts.Offset)

	var models []purchaseModel
	if err := s.findAll(ctx, colPurchases, filter, findOpts, &models); err != nil {
		return nil, fmt.Errorf("paywall/mongo: list purchases: %w", err)
	}

	result := make([]*purchase.Purchase, len(models))
	for i := range models {
		p, err := fromPurchaseModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Ledger Store ====================

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	if _, err := s.db.Collection(colEntries).InsertOne(ctx, toEntryModel(e)); err != nil {
		return mapWriteErr("append entry", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*ledger.Entry, error) {
	return s.findEntry(ctx, bson.M{"_id": entryID.String()})
}

func (s *Store) GetEntryByIdempotencyKey(ctx context.Context, payerID, key string) (*ledger.Entry, error) {
	return s.findEntry(ctx, bson.M{"payer_user_id": payerID, "idempotency_key": key})
}

func (s *Store) CompleteEntry(ctx context.Context, entryID id.EntryID, chargeID string, now time.Time) (*ledger.Entry, error) {
	return s.settleEntry(ctx, entryID, ledger.StatusCompleted, chargeID, "", now)
}

func (s *Store) FailEntry(ctx context.Context, entryID id.EntryID, reason, chargeID string, now time.Time) (*ledger.Entry, error) {
	return s.settleEntry(ctx, entryID, ledger.StatusFailed, chargeID, reason, now)
}

func (s *Store) ListEntries(ctx context.Context, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	filter := bson.M{}
	if opts.PayerUserID != "" {
		filter["payer_user_id"] = opts.PayerUserID
	}
	if opts.PayeeCreatorID != "" {
		filter["payee_creator_id"] = opts.PayeeCreatorID
	}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.CreatedBefore.IsZero() {
		filter["created_at"] = bson.M{"$lt": opts.CreatedBefore}
	}

	var models []entryModel
	if err := s.findAll(ctx, colEntries, filter, newestFirst(opts.Limit, opts.Offset), &models); err != nil {
		return nil, fmt.Errorf("paywall/mongo: list entries: %w", err)
	}

	result := make([]*ledger.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) SumEntries(ctx context.Context, payeeID string, since time.Time) ([]ledger.Total, error) {
	match := bson.M{
		"payee_creator_id": payeeID,
		"status":           string(ledger.StatusCompleted),
	}
	if !since.IsZero() {
		match["created_at"] = bson.M{"$gte": since}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":    bson.M{"kind": "$kind", "currency": "$currency"},
			"amount": bson.M{"$sum": "$amount"},
			"count":  bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id.kind", Value: 1}, {Key: "_id.currency", Value: 1}}}},
	}

	cursor, err := s.db.Collection(colEntries).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("paywall/mongo: sum entries: %w", err)
	}
	var models []totalModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("paywall/mongo: sum entries: %w", err)
	}

	result := make([]ledger.Total, len(models))
	for i, m := range models {
		result[i] = ledger.Total{
			Kind:   ledger.Kind(m.Key.Kind),
			Amount: types.Money{Amount: m.Amount, Currency: m.Key.Currency},
			Count:  m.Count,
		}
	}
	return result, nil
}

func (s *Store) findEntry(ctx context.Context, filter bson.M) (*ledger.Entry, error) {
	var m entryModel
	if err := s.db.Collection(colEntries).FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("paywall/mongo: get entry: %w", err)
	}
	return fromEntryModel(&m)
}

// settleEntry moves a PENDING entry to status. The status guard in the
// filter makes the transition happen at most once.
func (s *Store) settleEntry(ctx context.Context, entryID id.EntryID, status ledger.Status, chargeID, reason string, now time.Time) (*ledger.Entry, error) {
	set := bson.M{
		"status":         string(status),
		"failure_reason": reason,
		"settled_at":     now.UTC(),
	}
	if chargeID != "" {
		set["charge_id"] = chargeID
	}
	unset := bson.M{"pending_lock": ""}
	if status == ledger.StatusFailed {
		unset["live_refund_of"] = ""
	}

	var m entryModel
	err := s.db.Collection(colEntries).FindOneAndUpdate(ctx,
		bson.M{"_id": entryID.String(), "status": string(ledger.StatusPending)},
		bson.M{"$set": set, "$unset": unset},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return fromEntryModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("paywall/mongo: settle entry: %w", err)
	}

	current, err := s.findEntry(ctx, bson.M{"_id": entryID.String()})
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s is %s", ledger.ErrNotPending, entryID, current.Status)
}

// ==================== Commits ====================

func (s *Store) CommitSubscription(ctx context.Context, entryID id.EntryID, chargeID string, sub *subscription.Subscription, now time.Time) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		if _, err := s.settleEntry(ctx, entryID, ledger.StatusCompleted, chargeID, "", now); err != nil {
			return err
		}
		return s.insertSubscription(ctx, sub, now)
	})
}

func (s *Store) CommitRenewal(ctx context.Context, entryID id.EntryID, chargeID, userID, creatorID string, extension time.Duration, now time.Time) (*subscription.Subscription, error) {
	var sub *subscription.Subscription
	err := s.inTx(ctx, func(ctx context.Context) error {
		if _, err := s.settleEntry(ctx, entryID, ledger.StatusCompleted, chargeID, "", now); err != nil {
			return err
		}
		var err error
		sub, err = s.extendSubscription(ctx, userID, creatorID, extension, now, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Store) CommitPurchase(ctx context.Context, entryID id.EntryID, chargeID string, p *purchase.Purchase, now time.Time) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		if _, err := s.settleEntry(ctx, entryID, ledger.StatusCompleted, chargeID, "", now); err != nil {
			return err
		}
		if _, err := s.db.Collection(colPurchases).InsertOne(ctx, toPurchaseModel(p)); err != nil {
			return mapWriteErr("create purchase", err)
		}
		return nil
	})
}

// ==================== Helpers ====================

// inTx runs fn in a transaction. WithTransaction retries transient
// conflicts, so concurrent writers settle on the unique indexes.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("paywall/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *Store) findAll(ctx context.Context, col string, filter bson.M, opts *options.FindOptionsBuilder, out any) error {
	cursor, err := s.db.Collection(col).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

func newestFirst(limit, offset int) *options.FindOptionsBuilder {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	paginate(opts, limit, offset)
	return opts
}

func paginate(opts *options.FindOptionsBuilder, limit, offset int) {
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// mapWriteErr turns duplicate key errors into the sentinel of the index
// that rejected the write.
func mapWriteErr(op string, err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("paywall/mongo: %s: %w", op, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		switch {
		case se.HasErrorMessage(idxSubscriptionLive):
			return subscription.ErrDuplicateActive
		case se.HasErrorMessage(idxPurchaseUnique):
			return purchase.ErrAlreadyPurchased
		case se.HasErrorMessage(idxEntryPendingLock):
			return ledger.ErrInFlight
		case se.HasErrorMessage(idxEntryIdempotency):
			return ledger.ErrDuplicateRequest
		case se.HasErrorMessage(idxEntryRefundOf):
			return ledger.ErrAlreadyRefunded
		}
	}
	return fmt.Errorf("paywall/mongo: %s: %w", op, err)
}

// migrationIndexes returns the index definitions for all paywall collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSubscriptions: {
			{
				Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "creator_id", Value: 1}},
				Options: options.Index().
					SetName(idxSubscriptionLive).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"live": true}),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "creator_id", Value: 1}, {Key: "expires_at", Value: -1}}},
			{Keys: bson.D{{Key: "creator_id", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
		colPurchases: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "content_type", Value: 1}, {Key: "content_id", Value: 1}},
				Options: options.Index().SetName(idxPurchaseUnique).SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "purchased_at", Value: -1}}},
		},
		colEntries: {
			{
				Keys: bson.D{{Key: "payer_user_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().
					SetName(idxEntryIdempotency).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$gt": ""}}),
			},
			{
				Keys: bson.D{{Key: "pending_lock", Value: 1}},
				Options: options.Index().
					SetName(idxEntryPendingLock).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"pending_lock": bson.M{"$gt": ""}}),
			},
			{
				Keys: bson.D{{Key: "live_refund_of", Value: 1}},
				Options: options.Index().
					SetName(idxEntryRefundOf).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"live_refund_of": bson.M{"$gt": ""}}),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "payee_creator_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
