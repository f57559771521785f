package db

import (
	"context"
	"errors"

	"theratreat/apperr"
	"theratreat/models"

	"go.mongodb.org/mongo-driver/bson"
)

type IdempotencyStore struct {
	s *Store
}

func NewIdempotencyStore(s *Store) *IdempotencyStore {
	return &IdempotencyStore{s: s}
}

// Reserve inserts rec. When the user already holds the key it returns the
// stored record instead.
func (is *IdempotencyStore) Reserve(ctx context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	err := is.s.InsertOne(ctx, IdempotencyCollection, rec)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, apperr.ErrDuplicate) {
		return nil, persistence("reserve idempotency key", err)
	}
	var existing models.IdempotencyRecord
	found, err := is.s.FindOne(ctx, IdempotencyCollection, bson.M{"userid": rec.UserID, "key": rec.Key}, &existing)
	if err != nil {
		return nil, persistence("load idempotency key", err)
	}
	if !found {
		// expired between insert and read
		return nil, apperr.Conflict("idempotency_retry", "idempotency key expired, retry")
	}
	return &existing, nil
}

func (is *IdempotencyStore) SaveResponse(ctx context.Context, userID, key string, response map[string]interface{}) error {
	if _, err := is.s.UpdateOne(ctx, IdempotencyCollection, bson.M{"userid": userID, "key": key},
		bson.M{"$set": bson.M{"response": response}}); err != nil {
		return persistence("save idempotent response", err)
	}
	return nil
}
