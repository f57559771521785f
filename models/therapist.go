package models

// Therapist is the bookable profile. UserID is the login that owns the
// profile and is what status checks compare the actor against.
type Therapist struct {
	ID         string                  `json:"id" bson:"id"`
	UserID     string                  `json:"userId" bson:"userId"`
	Name       string                  `json:"name" bson:"name"`
	Email      string                  `json:"email,omitempty" bson:"email,omitempty"`
	Phone      string                  `json:"phone,omitempty" bson:"phone,omitempty"`
	Currency   string                  `json:"currency,omitempty" bson:"currency,omitempty"`
	DefaultFee float64                 `json:"defaultFee" bson:"defaultFee"`
	Fees       map[SessionType]float64 `json:"fees,omitempty" bson:"fees,omitempty"`
	Active     bool                    `json:"active" bson:"active"`
}

// FeeFor returns the per-session fee, falling back to DefaultFee.
func (t *Therapist) FeeFor(st SessionType) float64 {
	if fee, ok := t.Fees[st]; ok && fee > 0 {
		return fee
	}
	return t.DefaultFee
}
