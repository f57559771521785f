package db

import (
	"context"
	"errors"

	"theratreat/apperr"
	"theratreat/models"
)

type WebhookEventLog struct {
	s *Store
}

func NewWebhookEventLog(s *Store) *WebhookEventLog {
	return &WebhookEventLog{s: s}
}

func (l *WebhookEventLog) RecordEvent(ctx context.Context, e models.WebhookEvent) error {
	err := l.s.InsertOne(ctx, WebhookEventsCollection, e)
	if err == nil || errors.Is(err, apperr.ErrDuplicate) {
		return err
	}
	return persistence("record webhook event", err)
}
