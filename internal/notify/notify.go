// Package notify delivers moderation domain events to users. Formatting and
// transport live here; the core only hands over events.
package notify

import (
	"context"
	"errors"

	"tradepost/internal/domain"
	applog "tradepost/internal/log"
)

type Sink interface {
	Notify(ctx context.Context, ev domain.Event) error
}

// Notifiable reports whether an event kind is meant for the notification
// collaborator. FlagUpheld only drives cascades.
func Notifiable(kind domain.EventKind) bool {
	switch kind {
	case domain.EventUserBanned, domain.EventUserUnbanned, domain.EventAppealResolved, domain.EventListingHidden:
		return true
	}
	return false
}

// LogSink writes each event as an info log line.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, ev domain.Event) error {
	applog.Info(nil, "notify."+string(ev.Kind), eventFields(ev))
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func eventFields(ev domain.Event) map[string]any {
	f := map[string]any{"event_id": ev.ID}
	if ev.UserID != "" {
		f["user_id"] = ev.UserID
	}
	if ev.ListingID != "" {
		f["listing_id"] = ev.ListingID
	}
	if ev.AppealID != "" {
		f["appeal_id"] = ev.AppealID
	}
	if ev.ActionID != "" {
		f["action_id"] = ev.ActionID
	}
	for k, v := range ev.Data {
		f[k] = v
	}
	return f
}
