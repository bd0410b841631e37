package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/winnerbot/internal/bus"
	"github.com/stellarlinkco/winnerbot/internal/channel"
	"github.com/stellarlinkco/winnerbot/internal/config"
	"github.com/stellarlinkco/winnerbot/internal/logger"
	"github.com/stellarlinkco/winnerbot/internal/router"
	"github.com/stellarlinkco/winnerbot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const groupChat int64 = -1001

// mockBot implements channel.TelegramBot for testing.
type mockBot struct {
	mu       sync.Mutex
	updates  chan tgbotapi.Update
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	sendErr  error
	stopped  bool
}

func newMockBot() *mockBot {
	return &mockBot{updates: make(chan tgbotapi.Update, 10)}
}

func (m *mockBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *mockBot) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	m.sent = append(m.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(m.sent)}, nil
}

func (m *mockBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockBot) GetSelf() tgbotapi.User {
	return tgbotapi.User{ID: 1, UserName: "winnerbot"}
}

func (m *mockBot) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return tgbotapi.ChatMember{}, errors.New("member lookup disabled")
}

func (m *mockBot) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, msg := range m.sent {
		out[i] = msg.Text
	}
	return out
}

func (m *mockBot) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func factoryFor(bot *mockBot) channel.BotFactory {
	return func(token, apiEndpoint string, client *http.Client) (channel.TelegramBot, error) {
		return bot, nil
	}
}

func commandUpdate(chatType string, from int64, text string) tgbotapi.Update {
	chatID := groupChat
	if chatType == bus.ChatPrivate {
		chatID = from
	}
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: from},
			Chat:      &tgbotapi.Chat{ID: chatID, Type: chatType},
			Date:      int(time.Now().Unix()),
			Text:      text,
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Telegram.Token = "test-token"
	cfg.Storage.Dir = t.TempDir()
	cfg.Game.SuspenseDelay = "1ms"
	return cfg
}

type runResult struct {
	err error
}

func startGateway(t *testing.T, cfg *config.Config, bot *mockBot) (chan os.Signal, <-chan runResult) {
	t.Helper()
	sigCh := make(chan os.Signal, 1)
	gw, err := NewWithOptions(cfg, Options{BotFactory: factoryFor(bot), SignalChan: sigCh})
	require.NoError(t, err)

	done := make(chan runResult, 1)
	go func() {
		done <- runResult{err: gw.Run(context.Background())}
	}()
	return sigCh, done
}

func waitRun(t *testing.T, done <-chan runResult) {
	t.Helper()
	select {
	case res := <-done:
		require.NoError(t, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
}

func TestNewWithOptions_MalformedState(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.StatePath(), []byte("{not json"), 0644))

	_, err := NewWithOptions(cfg, Options{BotFactory: factoryFor(newMockBot())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load store")
}

func TestNewWithOptions_NoToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telegram.Token = ""
	cfg.Telegram.TokenFile = filepath.Join(t.TempDir(), "missing.txt")

	_, err := NewWithOptions(cfg, Options{BotFactory: factoryFor(newMockBot())})
	assert.ErrorIs(t, err, config.ErrNoToken)
}

func TestNewWithOptions_TokenFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telegram.Token = ""
	cfg.Telegram.TokenFile = filepath.Join(t.TempDir(), "token.txt")
	require.NoError(t, os.WriteFile(cfg.Telegram.TokenFile, []byte("123:abc\nignored\n"), 0600))

	var gotToken string
	factory := func(token, apiEndpoint string, client *http.Client) (channel.TelegramBot, error) {
		gotToken = token
		return newMockBot(), nil
	}
	gw, err := NewWithOptions(cfg, Options{BotFactory: factory})
	require.NoError(t, err)
	require.NoError(t, gw.telegram.Start(context.Background()))
	assert.Equal(t, "123:abc", gotToken)
}

func TestGateway_RunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	bot := newMockBot()
	sigCh, done := startGateway(t, cfg, bot)

	bot.updates <- commandUpdate(bus.ChatGroup, 10, "/register")
	bot.updates <- commandUpdate(bus.ChatGroup, 20, "/register@winnerbot")
	bot.updates <- commandUpdate(bus.ChatGroup, 20, "/choose_winner")

	// register, register, three suspense stages and the announcement
	require.Eventually(t, func() bool { return len(bot.texts()) == 6 }, 5*time.Second, 10*time.Millisecond)

	sigCh <- syscall.SIGTERM
	waitRun(t, done)
	assert.True(t, bot.isStopped())

	texts := bot.texts()
	phrases := router.DefaultPhrases()
	assert.Equal(t, phrases.AddedToGame, texts[0])
	assert.Equal(t, phrases.AddedToGame, texts[1])
	// member lookup fails in the mock, so names fall back to ids
	assert.True(t, strings.Contains(texts[5], "10") || strings.Contains(texts[5], "20"), texts[5])

	data, err := os.ReadFile(cfg.StatePath())
	require.NoError(t, err)
	var state map[string]store.ChatState
	require.NoError(t, json.Unmarshal(data, &state))
	chat := state["-1001"]
	assert.Equal(t, []int64{10, 20}, chat.Players)
	require.Len(t, chat.Winners, 1)
	for _, winner := range chat.Winners {
		assert.Contains(t, []int64{10, 20}, winner)
	}

	bot.mu.Lock()
	defer bot.mu.Unlock()
	require.Len(t, bot.requests, 1, "command menu published once")
	assert.IsType(t, tgbotapi.SetMyCommandsConfig{}, bot.requests[0])
}

func TestGateway_PrivateChatRejected(t *testing.T) {
	cfg := testConfig(t)
	bot := newMockBot()
	sigCh, done := startGateway(t, cfg, bot)

	bot.updates <- commandUpdate(bus.ChatPrivate, 10, "/register")
	bot.updates <- commandUpdate(bus.ChatPrivate, 10, "/rules")
	require.Eventually(t, func() bool { return len(bot.texts()) == 2 }, 5*time.Second, 10*time.Millisecond)

	sigCh <- syscall.SIGINT
	waitRun(t, done)

	phrases := router.DefaultPhrases()
	assert.Equal(t, []string{phrases.AccessDenied, phrases.Rules}, bot.texts())

	st, err := store.Load(cfg.StatePath())
	require.NoError(t, err)
	assert.Empty(t, st.Players(10))
}

func TestGateway_StopsWhenContextCanceled(t *testing.T) {
	cfg := testConfig(t)
	bot := newMockBot()
	gw, err := NewWithOptions(cfg, Options{BotFactory: factoryFor(bot), SignalChan: make(chan os.Signal)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	go func() { done <- runResult{err: gw.Run(ctx)} }()

	cancel()
	waitRun(t, done)
	assert.True(t, bot.isStopped())
}

func TestGateway_StopsWhenUpdatesClose(t *testing.T) {
	cfg := testConfig(t)
	bot := newMockBot()
	_, done := startGateway(t, cfg, bot)

	close(bot.updates)
	waitRun(t, done)
}

func TestGateway_HandleLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(nil) })

	cfg := testConfig(t)
	bot := newMockBot()
	bot.sendErr = errors.New("chat not found")
	gw, err := NewWithOptions(cfg, Options{BotFactory: factoryFor(bot)})
	require.NoError(t, err)
	require.NoError(t, gw.telegram.Start(context.Background()))

	sentAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	gw.handle(context.Background(), bus.InboundMessage{
		Channel:   "telegram",
		ChatID:    groupChat,
		ChatType:  bus.ChatGroup,
		SenderID:  1,
		Command:   "register",
		MessageID: 77,
		Timestamp: sentAt,
	})
	gw.handle(context.Background(), bus.InboundMessage{ChatID: groupChat, ChatType: bus.ChatGroup, SenderID: 1, Command: "dance"})

	failed := logs.FilterMessage("command failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	assert.Equal(t, "telegram:-1001", fields["session"])
	assert.Equal(t, groupChat, fields["chat_id"])
	assert.Equal(t, int64(77), fields["message_id"])
	assert.Equal(t, "register", fields["command"])
	assert.Equal(t, sentAt, fields["sent_at"])
	assert.Contains(t, fields["error"], "chat not found")

	assert.Equal(t, 1, logs.FilterMessage("ignoring unknown command").Len())
	assert.Equal(t, []int64{1}, gw.game.Players(groupChat), "state change survives a failed reply")
}

func TestBotCommands(t *testing.T) {
	got := botCommands([]router.Command{
		{Name: "start", Description: "Show the rules"},
		{Name: "choose_winner", Description: "Choose today's winner", GroupOnly: true},
	})
	assert.Equal(t, []tgbotapi.BotCommand{
		{Command: "start", Description: "Show the rules"},
		{Command: "choose_winner", Description: "Choose today's winner"},
	}, got)
}
