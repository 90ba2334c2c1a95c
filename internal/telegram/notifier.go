package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"moto-store/internal/observability"
)

// botAPI is the slice of *tgbotapi.BotAPI the package uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type BlockMarker interface {
	MarkBlocked(ctx context.Context, tgID int64) error
}

// NewAPI connects to the Bot API and checks the token.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return api, nil
}

type Notifier struct {
	api     botAPI
	blocked BlockMarker
	logger  *observability.Logger
	ttl     time.Duration
}

func NewNotifier(api botAPI, blocked BlockMarker, logger *observability.Logger, ttl time.Duration) *Notifier {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Notifier{api: api, blocked: blocked, logger: logger, ttl: ttl}
}

func (n *Notifier) SendCode(ctx context.Context, chatID int64, code string) error {
	text := fmt.Sprintf("Your moto-store verification code: %s\nIt is valid for %d minutes.", code, int(n.ttl.Minutes()))
	return n.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func (n *Notifier) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if _, err := n.api.Send(msg); err != nil {
		if isBlocked(err) && n.blocked != nil {
			if markErr := n.blocked.MarkBlocked(ctx, msg.ChatID); markErr != nil {
				n.logger.Error("telegram_mark_blocked_failed", map[string]any{"chat_id": msg.ChatID, "error": markErr})
			}
			n.logger.Warn("telegram_bot_blocked", map[string]any{"chat_id": msg.ChatID})
		}
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func isBlocked(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden
}
