package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gateway-reconciler/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*TelegramNotifier)(nil)

// alertEvents are the notifications worth paging the ops chat for.
var alertEvents = map[string]bool{
	adapter.EventPaymentFailed:         true,
	adapter.EventPaymentProviderError:  true,
	adapter.EventCustomerProviderError: true,
}

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts failure notifications to an ops chat. Other events are skipped.
type TelegramNotifier struct {
	bot    messageSender
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, note adapter.Notification) error {
	if !alertEvents[note.Event] {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, formatAlert(note))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send %s: %w", note.Event, err)
	}
	return nil
}

func formatAlert(note adapter.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s\n", note.Event)
	fmt.Fprintf(&b, "org: %s\n", note.OrganizationID)
	fmt.Fprintf(&b, "%s: %s\n", note.SubjectType, note.SubjectID)
	keys := make([]string, 0, len(note.Detail))
	for k := range note.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, note.Detail[k])
	}
	if !note.OccurredAt.IsZero() {
		fmt.Fprintf(&b, "at: %s", note.OccurredAt.UTC().Format("2006-01-02 15:04:05Z"))
	}
	return strings.TrimRight(b.String(), "\n")
}
