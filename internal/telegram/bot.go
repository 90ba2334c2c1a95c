package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"moto-store/internal/observability"
	"moto-store/internal/users"
)

const (
	defaultLanguage = "en"
	pollTimeout     = 30
)

type SignupStore interface {
	UpsertFromBot(ctx context.Context, signup users.BotSignup) (users.Profile, bool, error)
}

// Bot answers commands sent to the store bot. /start registers the sender as
// a store user so they can later set a web password.
type Bot struct {
	api      botAPI
	users    SignupStore
	notifier *Notifier
	logger   *observability.Logger
}

func NewBot(api botAPI, store SignupStore, notifier *Notifier, logger *observability.Logger) *Bot {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Bot{api: api, users: store, notifier: notifier, logger: logger}
}

// Run long-polls updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(cfg)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("telegram_bot_started", nil)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	default:
		b.reply(ctx, msg.Chat.ID, "Unknown command. Send /start to sign up.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	signup := users.BotSignup{
		TgID:     msg.From.ID,
		Username: usernameFor(msg.From),
		Language: msg.From.LanguageCode,
		Source:   strings.TrimSpace(msg.CommandArguments()),
	}
	if signup.Language == "" {
		signup.Language = defaultLanguage
	}

	profile, created, err := b.users.UpsertFromBot(ctx, signup)
	if errors.Is(err, users.ErrUsernameTaken) {
		signup.Username = fallbackUsername(msg.From.ID)
		profile, created, err = b.users.UpsertFromBot(ctx, signup)
	}
	if err != nil {
		b.logger.Error("telegram_signup_failed", map[string]any{"tg_id": signup.TgID, "error": err})
		b.reply(ctx, msg.Chat.ID, "Something went wrong, please try /start again later.")
		return
	}

	if created {
		b.logger.Info("telegram_user_created", map[string]any{
			"user_id": profile.ID,
			"tg_id":   signup.TgID,
			"source":  signup.Source,
		})
	}

	text := fmt.Sprintf("Welcome to moto-store, %s!", profile.Username)
	if !profile.HasPassword {
		text += fmt.Sprintf("\nTo use the website, register with username %q. The confirmation code will arrive in this chat.", profile.Username)
	}
	b.reply(ctx, msg.Chat.ID, text)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.notifier.send(ctx, tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("telegram_reply_failed", map[string]any{"chat_id": chatID, "error": err})
	}
}

func usernameFor(from *tgbotapi.User) string {
	name := strings.ToLower(strings.TrimSpace(from.UserName))
	if name == "" {
		return fallbackUsername(from.ID)
	}
	return name
}

func fallbackUsername(tgID int64) string {
	return fmt.Sprintf("user%d", tgID)
}
