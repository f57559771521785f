package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"theratreat/apperr"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	BookingsCollection      = "bookings"
	EarningsCollection      = "earnings"
	TherapistsCollection    = "therapists"
	IdempotencyCollection   = "idempotency"
	WebhookEventsCollection = "webhook_events"
)

// Store is the persistence accessor: generic reads and writes keyed by
// collection name and filter. The typed stores in this package sit on top.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
}

func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, database: client.Database(dbName)}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Collection(name string) *mongo.Collection {
	return s.database.Collection(name)
}

// EnsureIndexes creates every index the stores rely on. The unique index on
// earnings.bookingId is what keeps the ledger at one entry per booking.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		BookingsCollection: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_id")},
			{Keys: bson.D{{Key: "payment.order.orderId", Value: 1}}, Options: options.Index().SetName("payment_order_id").SetSparse(true)},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("user_created")},
			{Keys: bson.D{{Key: "therapistUserId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("therapist_user_created")},
			{Keys: bson.D{{Key: "therapistId", Value: 1}}, Options: options.Index().SetName("therapist_id")},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "paymentStatus", Value: 1}, {Key: "earningRecorded", Value: 1}}, Options: options.Index().SetName("status_payment_earning")},
		},
		EarningsCollection: {
			{Keys: bson.D{{Key: "bookingId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_booking")},
			{Keys: bson.D{{Key: "therapistId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("therapist_created")},
		},
		TherapistsCollection: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_id")},
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("user_id")},
		},
		IdempotencyCollection: {
			{Keys: bson.D{{Key: "userid", Value: 1}, {Key: "key", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_user_key")},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_at")},
		},
		WebhookEventsCollection: {
			{Keys: bson.D{{Key: "eventId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_event")},
		},
	}
	for coll, idx := range indexes {
		if _, err := s.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// InsertOne reports a unique-index violation as apperr.ErrDuplicate.
func (s *Store) InsertOne(ctx context.Context, coll string, doc any) error {
	_, err := s.Collection(coll).InsertOne(ctx, doc)
	if isDuplicateKeyError(err) {
		return fmt.Errorf("insert %s: %w", coll, apperr.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", coll, err)
	}
	return nil
}

// FindOne decodes the first match into out. found is false when nothing matched.
func (s *Store) FindOne(ctx context.Context, coll string, filter bson.M, out any) (bool, error) {
	err := s.Collection(coll).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find %s: %w", coll, err)
	}
	return true, nil
}

// Find decodes every match into out, which must be a pointer to a slice.
func (s *Store) Find(ctx context.Context, coll string, filter bson.M, opts *options.FindOptions, out any) error {
	cur, err := s.Collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("find %s: %w", coll, err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("decode %s: %w", coll, err)
	}
	return nil
}

// FindOneAndUpdate applies update to the first document matching filter and
// decodes the post-update document into out. found is false when the filter
// matched nothing, which for conditional updates means the precondition failed
// or the document is missing.
func (s *Store) FindOneAndUpdate(ctx context.Context, coll string, filter, update bson.M, out any) (bool, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.Collection(coll).FindOneAndUpdate(ctx, filter, update, opts).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update %s: %w", coll, err)
	}
	return true, nil
}

func (s *Store) FindOneAndSet(ctx context.Context, coll string, filter, set bson.M, out any) (bool, error) {
	return s.FindOneAndUpdate(ctx, coll, filter, bson.M{"$set": set}, out)
}

func (s *Store) UpdateOne(ctx context.Context, coll string, filter, update bson.M) (bool, error) {
	res, err := s.Collection(coll).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", coll, err)
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) Count(ctx context.Context, coll string, filter bson.M) (int64, error) {
	n, err := s.Collection(coll).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", coll, err)
	}
	return n, nil
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return mongo.IsDuplicateKeyError(err)
}

func persistence(op string, err error) error {
	return apperr.Persistence("persistence_error", op, err)
}
