package db

import (
	"context"
	"errors"

	"theratreat/apperr"
	"theratreat/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type EarningStore struct {
	s *Store
}

func NewEarningStore(s *Store) *EarningStore {
	return &EarningStore{s: s}
}

func (es *EarningStore) FindByBooking(ctx context.Context, bookingID string) (*models.Earning, error) {
	var e models.Earning
	found, err := es.s.FindOne(ctx, EarningsCollection, bson.M{"bookingId": bookingID}, &e)
	if err != nil {
		return nil, persistence("find earning", err)
	}
	if !found {
		return nil, apperr.NotFound("earning_not_found", "earning not found")
	}
	return &e, nil
}

// Insert returns an error wrapping apperr.ErrDuplicate when another writer
// already recorded an entry for the booking.
func (es *EarningStore) Insert(ctx context.Context, e *models.Earning) error {
	err := es.s.InsertOne(ctx, EarningsCollection, e)
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrDuplicate) {
		return apperr.Wrap(apperr.KindPersistence, "earning_exists", "earning already recorded", err)
	}
	return persistence("insert earning", err)
}

func (es *EarningStore) ListByTherapist(ctx context.Context, therapistID string) ([]models.Earning, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	earnings := []models.Earning{}
	if err := es.s.Find(ctx, EarningsCollection, bson.M{"therapistId": therapistID}, opts, &earnings); err != nil {
		return nil, persistence("list earnings", err)
	}
	return earnings, nil
}
