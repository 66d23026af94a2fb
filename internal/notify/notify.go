package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Action string

const (
	Created  Action = "created"
	Updated  Action = "updated"
	Deleted  Action = "deleted"
	Imported Action = "imported"
)

// Event — успешное изменение, сделанное через веб-интерфейс.
type Event struct {
	Action   Action
	Resource string
	Title    string
	Count    int
}

func (e Event) Text() string {
	switch e.Action {
	case Imported:
		return fmt.Sprintf("📥 %s: imported %d record(s)", e.Resource, e.Count)
	case Deleted:
		return fmt.Sprintf("🗑 %s: deleted %q", e.Resource, e.Title)
	case Updated:
		return fmt.Sprintf("✏️ %s: updated %q", e.Resource, e.Title)
	default:
		return fmt.Sprintf("📚 %s: created %q", e.Resource, e.Title)
	}
}

type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, e Event) {
	log.Printf("notify: %s", e.Text())
}

// Multi рассылает событие нескольким нотификаторам.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		n.Notify(ctx, e)
	}
}

// sender — та часть *tgbotapi.BotAPI, которая нам нужна.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier пишет события в чат. Ошибки отправки только логируются.
type TelegramNotifier struct {
	bot    sender
	chatID int64
}

// NewTelegramNotifier авторизует бота (запрос getMe) и возвращает нотификатор.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("ошибка авторизации Telegram-бота: %w", err)
	}
	bot.Debug = false
	log.Printf("Telegram: авторизован как %s", bot.Self.UserName)

	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (n *TelegramNotifier) Notify(_ context.Context, e Event) {
	msg := tgbotapi.NewMessage(n.chatID, e.Text())
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		log.Printf("notify: telegram send failed chat_id=%d: %v", n.chatID, err)
	}
}
