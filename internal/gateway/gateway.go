package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/winnerbot/internal/bus"
	"github.com/stellarlinkco/winnerbot/internal/channel"
	"github.com/stellarlinkco/winnerbot/internal/config"
	"github.com/stellarlinkco/winnerbot/internal/game"
	"github.com/stellarlinkco/winnerbot/internal/logger"
	"github.com/stellarlinkco/winnerbot/internal/router"
	"github.com/stellarlinkco/winnerbot/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const inboundBufSize = 100

// Options for creating a Gateway
type Options struct {
	BotFactory channel.BotFactory // nil uses the real Telegram client
	SignalChan chan os.Signal     // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      *store.MemoryStore
	game       *game.Game
	telegram   *channel.TelegramChannel
	router     *router.Router
	signalChan chan os.Signal
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions loads the chat state and wires the game to Telegram.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(inboundBufSize),
		signalChan: opts.SignalChan,
	}

	st, err := store.Load(cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	g.store = st

	g.game = game.New(st, game.Options{
		DayOffset:       cfg.DayOffset(),
		SuspenseDelay:   cfg.SuspenseDelay(),
		LeaderboardSize: cfg.Game.LeaderboardSize,
	})

	token, err := cfg.ResolveToken()
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	tgCfg := cfg.Telegram
	tgCfg.Token = token

	if opts.BotFactory != nil {
		g.telegram, err = channel.NewTelegramChannelWithFactory(tgCfg, g.bus, opts.BotFactory)
	} else {
		g.telegram, err = channel.NewTelegramChannel(tgCfg, g.bus)
	}
	if err != nil {
		return nil, fmt.Errorf("create telegram channel: %w", err)
	}

	g.router = router.New(g.game, g.telegram, router.Options{PageSize: cfg.Game.PageSize})

	logger.Info("gateway ready",
		zap.String("state", st.Path()),
		zap.Int("chats", len(st.Chats())))
	return g, nil
}

// Run polls Telegram and handles commands until ctx is done or a signal
// arrives.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.telegram.Start(ctx); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}
	if err := g.telegram.SetCommands(botCommands(g.router.Commands())); err != nil {
		logger.Warn("publish command menu failed", zap.Error(err))
	}

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer cancel()
		return g.telegram.Poll(egCtx)
	})
	eg.Go(func() error {
		g.processLoop(egCtx)
		return nil
	})
	eg.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("signal received", zap.String("signal", sig.String()))
			cancel()
		case <-egCtx.Done():
		}
		return nil
	})

	logger.Info("gateway running", zap.String("channel", g.telegram.Name()))
	err := eg.Wait()

	logger.Info("gateway shutting down")
	if shutdownErr := g.Shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

// processLoop handles commands one at a time in arrival order.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	handled, err := g.router.Dispatch(ctx, msg)
	if err != nil {
		logger.Error("command failed",
			zap.String("session", msg.SessionKey()),
			zap.Int64("chat_id", msg.ChatID),
			zap.Int("message_id", msg.MessageID),
			zap.String("command", msg.Command),
			zap.Time("sent_at", msg.Timestamp),
			zap.Error(err))
		return
	}
	if !handled {
		logger.Debug("ignoring unknown command",
			zap.String("session", msg.SessionKey()),
			zap.Int64("chat_id", msg.ChatID),
			zap.String("command", msg.Command))
	}
}

// Shutdown stops polling and flushes the chat state.
func (g *Gateway) Shutdown() error {
	_ = g.telegram.Stop()
	if err := g.store.Commit(); err != nil {
		return fmt.Errorf("commit store: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func botCommands(commands []router.Command) []tgbotapi.BotCommand {
	out := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, c := range commands {
		out = append(out, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}
