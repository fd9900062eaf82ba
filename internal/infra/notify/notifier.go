// Package notify delivers scheduled notifications to external channels.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain/ports/adapter"
)

var (
	_ adapter.Notifier = (*LogNotifier)(nil)
	_ adapter.Notifier = (Multi)(nil)
)

// LogNotifier writes notifications to the structured log. It is the fallback channel.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, note adapter.Notification) error {
	n.log.Info().
		Str("event", note.Event).
		Str("organization_id", note.OrganizationID).
		Str("subject_type", note.SubjectType).
		Str("subject_id", note.SubjectID).
		Interface("detail", note.Detail).
		Msg("notification")
	return nil
}

// Multi fans a notification out to every channel and joins their errors.
type Multi []adapter.Notifier

func (m Multi) Notify(ctx context.Context, note adapter.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
