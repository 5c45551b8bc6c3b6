// Package notify delivers alert text to Telegram chats.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/alert"
	"github.com/iliyamo/patient-recovery/internal/config"
	"github.com/iliyamo/patient-recovery/internal/logging"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type pollingBot interface {
	messageSender
	Start(ctx context.Context)
	RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, f bot.HandlerFunc, m ...bot.Middleware) string
}

var createBot = func(token string, options ...bot.Option) (pollingBot, error) {
	return bot.New(token, options...)
}

// Dispatcher sends messages through the Telegram Bot API. Sends are
// best-effort: failures are logged and never reach the caller of Send.
type Dispatcher struct {
	bot     pollingBot
	timeout time.Duration
	logger  *logrus.Entry
}

// NewDispatcher builds a Dispatcher from cfg. An empty token yields a
// dispatcher whose sends are silent no-ops.
func NewDispatcher(cfg config.TelegramConfig, logger *logrus.Entry) (*Dispatcher, error) {
	if logger == nil {
		logger = logging.Component("telegram")
	}
	d := &Dispatcher{timeout: cfg.SendTimeout, logger: logger}
	if strings.TrimSpace(cfg.Token) == "" {
		logger.Warn("TELEGRAM_BOT_TOKEN is empty; alerts will not be sent")
		return d, nil
	}

	opts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithErrorsHandler(func(err error) {
			logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
		}),
		bot.WithDefaultHandler(func(context.Context, *bot.Bot, *models.Update) {}),
	}
	if cfg.APIURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.APIURL))
	}
	b, err := createBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	d.bot = b
	return d, nil
}

// Enabled reports whether a bot token is configured.
func (d *Dispatcher) Enabled() bool { return d != nil && d.bot != nil }

// Send delivers text to chatID. It is a no-op when the dispatcher is
// disabled or chatID is empty; errors are logged and discarded.
func (d *Dispatcher) Send(ctx context.Context, chatID, text string) {
	if err := d.send(ctx, chatID, text); err != nil {
		d.logger.WithFields(logging.Fields{"event": "telegram_send", "chat_id": chatID}).
			WithError(err).Warn("telegram send failed")
	}
}

// Deliver implements alert.Sink for inline delivery. Unlike Send it returns
// the failure so the caller can log or retry it.
func (d *Dispatcher) Deliver(ctx context.Context, del alert.Delivery) error {
	return d.send(ctx, del.Recipient.ChatID, del.Text)
}

func (d *Dispatcher) send(ctx context.Context, chatID, text string) error {
	chatID = strings.TrimSpace(chatID)
	if !d.Enabled() || chatID == "" {
		return nil
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	_, err := d.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	return err
}

// StartCommandReply is the text sent back to /start so the user can bind
// the chat from the API.
func StartCommandReply(chatID int64) string {
	return fmt.Sprintf("Your chat id is %d. Bind it with POST /api/telegram/bind {\"chatId\": \"%d\"}.", chatID, chatID)
}

// Listen long-polls for updates and answers /start with the caller's chat
// id. It blocks until ctx is cancelled and returns at once when disabled.
func (d *Dispatcher) Listen(ctx context.Context) {
	if !d.Enabled() {
		return
	}
	d.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, d.handleStart)

	d.logger.WithField("event", "telegram_listen").Info("starting telegram long polling")
	d.bot.Start(ctx)
	d.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

func (d *Dispatcher) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	d.logger.WithFields(logging.Fields{"event": "telegram_start", "chat_id": chatID}).Info("start command received")
	d.Send(ctx, fmt.Sprint(chatID), StartCommandReply(chatID))
}
