package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/winnerbot/internal/bus"
	"github.com/stellarlinkco/winnerbot/internal/config"
	"github.com/stellarlinkco/winnerbot/internal/logger"
	"go.uber.org/zap"
)

const telegramChannelName = "telegram"

// Telegram caps messages at 4096 characters.
const maxMessageLen = 4000

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

func (w *tgBotWrapper) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return w.bot.GetChatMember(config)
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

// defaultBotFactory creates real telegram bot
var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	token       string
	proxy       string
	pollTimeout int
	bus         *bus.MessageBus
	bot         TelegramBot
	updates     tgbotapi.UpdatesChannel
	botFactory  BotFactory
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, config.ErrNoToken
	}

	return &TelegramChannel{
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		pollTimeout: cfg.PollTimeout,
		bus:         b,
		botFactory:  factory,
	}, nil
}

func (t *TelegramChannel) Name() string {
	return telegramChannelName
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	if err := tgbotapi.SetLogger(zap.NewStdLog(logger.L().Named("tgbotapi"))); err != nil {
		logger.Warn("set telegram client logger", zap.Error(err))
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	logger.Info("telegram authorized", zap.String("bot", bot.GetSelf().UserName))
	return nil
}

// Start authorizes the bot and subscribes to updates. Poll consumes them.
func (t *TelegramChannel) Start(ctx context.Context) error {
	if t.bot == nil {
		if err := t.initBot(); err != nil {
			return err
		}
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	t.updates = t.bot.GetUpdatesChan(u)
	logger.Info("telegram polling started")
	return nil
}

// Poll forwards command updates to the bus until ctx is done or the update
// stream closes.
func (t *TelegramChannel) Poll(ctx context.Context) error {
	if t.updates == nil {
		return fmt.Errorf("telegram channel not started")
	}
	for {
		select {
		case update, ok := <-t.updates:
			if !ok {
				return nil
			}
			msg, ok := t.toInbound(update)
			if !ok {
				continue
			}
			if err := t.bus.Publish(ctx, msg); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// toInbound keeps only commands meant for this bot.
func (t *TelegramChannel) toInbound(update tgbotapi.Update) (bus.InboundMessage, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.From == nil || !msg.IsCommand() {
		return bus.InboundMessage{}, false
	}

	if withAt := msg.CommandWithAt(); strings.Contains(withAt, "@") {
		target := withAt[strings.Index(withAt, "@")+1:]
		if !strings.EqualFold(target, t.bot.GetSelf().UserName) {
			return bus.InboundMessage{}, false
		}
	}

	return bus.InboundMessage{
		Channel:   telegramChannelName,
		ChatID:    msg.Chat.ID,
		ChatType:  msg.Chat.Type,
		SenderID:  msg.From.ID,
		Command:   strings.ToLower(msg.Command()),
		Args:      msg.CommandArguments(),
		MessageID: msg.MessageID,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}, true
}

func (t *TelegramChannel) Stop() error {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	logger.Info("telegram stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

// SetCommands publishes the command menu shown by Telegram clients.
func (t *TelegramChannel) SetCommands(commands []tgbotapi.BotCommand) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	if _, err := t.bot.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return fmt.Errorf("set telegram commands: %w", err)
	}
	return nil
}

// Send delivers HTML content, split at line breaks when too long. A chunk
// whose markup Telegram cannot parse is retried as plain text; other
// failures are returned without a retry.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	logger.Info("sending response", zap.Int64("chat_id", msg.ChatID), zap.String("text", msg.Content))

	for _, chunk := range splitMessage(msg.Content, maxMessageLen) {
		tgMsg := tgbotapi.NewMessage(msg.ChatID, chunk)
		tgMsg.ParseMode = tgbotapi.ModeHTML
		_, err := t.bot.Send(tgMsg)
		if err != nil && isParseEntitiesError(err) {
			logger.Warn("html rejected, retrying as plain text",
				zap.Int64("chat_id", msg.ChatID), zap.Error(err))
			tgMsg.ParseMode = ""
			_, err = t.bot.Send(tgMsg)
		}
		if err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// isParseEntitiesError reports whether Telegram rejected the message markup.
func isParseEntitiesError(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Message), "can't parse entities")
}

// splitMessage cuts content into chunks of at most maxLen bytes, preferring
// line breaks and never splitting a UTF-8 sequence.
func splitMessage(content string, maxLen int) []string {
	var chunks []string
	for len(content) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		chunk := content[:cut]
		if idx := strings.LastIndex(chunk, "\n"); idx > 0 {
			chunk = chunk[:idx]
		}
		chunks = append(chunks, chunk)
		content = strings.TrimPrefix(content[len(chunk):], "\n")
	}
	return append(chunks, content)
}

// DisplayName resolves how a chat member is shown: @username (username
// without the @ when mention is false), else first name, else last name,
// else the numeric id. Lookup failures fall back to the id.
func (t *TelegramChannel) DisplayName(chatID, userID int64, mention bool) string {
	fallback := strconv.FormatInt(userID, 10)
	if t.bot == nil {
		return fallback
	}

	member, err := t.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		logger.Warn("resolve chat member failed",
			zap.Int64("chat_id", chatID), zap.Int64("user_id", userID), zap.Error(err))
		return fallback
	}
	return displayName(member.User, mention, fallback)
}

func displayName(user *tgbotapi.User, mention bool, fallback string) string {
	if user == nil {
		return fallback
	}
	switch {
	case user.UserName != "":
		if mention {
			return "@" + user.UserName
		}
		return user.UserName
	case user.FirstName != "":
		return user.FirstName
	case user.LastName != "":
		return user.LastName
	default:
		return fallback
	}
}
