package db

import (
	"context"

	"theratreat/apperr"
	"theratreat/models"

	"go.mongodb.org/mongo-driver/bson"
)

// TherapistDirectory reads therapist profiles. Profiles are owned by the
// onboarding flow; this service only reads them.
type TherapistDirectory struct {
	s *Store
}

func NewTherapistDirectory(s *Store) *TherapistDirectory {
	return &TherapistDirectory{s: s}
}

func (d *TherapistDirectory) GetTherapist(ctx context.Context, id string) (*models.Therapist, error) {
	return d.find(ctx, bson.M{"id": id})
}

func (d *TherapistDirectory) FindByUserID(ctx context.Context, userID string) (*models.Therapist, error) {
	return d.find(ctx, bson.M{"userId": userID})
}

func (d *TherapistDirectory) find(ctx context.Context, filter bson.M) (*models.Therapist, error) {
	var t models.Therapist
	found, err := d.s.FindOne(ctx, TherapistsCollection, filter, &t)
	if err != nil {
		return nil, persistence("find therapist", err)
	}
	if !found {
		return nil, apperr.NotFound("therapist_not_found", "therapist not found")
	}
	return &t, nil
}
