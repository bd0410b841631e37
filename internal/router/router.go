// Package router maps bot commands to game operations and renders the
// replies.
package router

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/winnerbot/internal/bus"
	"github.com/stellarlinkco/winnerbot/internal/game"
	"github.com/stellarlinkco/winnerbot/internal/logger"
	"go.uber.org/zap"
)

const DefaultPageSize = 10

// Game is the part of the game the commands drive.
type Game interface {
	Register(chatID, userID int64) game.RegisterOutcome
	Unregister(chatID, userID int64) game.UnregisterOutcome
	Players(chatID int64) []int64
	ChooseWinner(chatID int64, onStage func(stage int) error) (game.Selection, error)
	TopWinnersOfMonth(chatID int64) []game.Standing
}

// Messenger delivers replies and resolves member names.
type Messenger interface {
	Send(msg bus.OutboundMessage) error
	DisplayName(chatID, userID int64, mention bool) string
}

// Handler handles one command.
type Handler func(ctx context.Context, msg bus.InboundMessage) error

// Command describes a registered command for the client menu.
type Command struct {
	Name        string
	Description string
	GroupOnly   bool
}

type Options struct {
	Phrases  *Phrases
	PageSize int
	// Pick chooses one phrase from a pool. Defaults to a uniform choice.
	Pick func(pool []string) string
}

type Router struct {
	game     Game
	out      Messenger
	phrases  *Phrases
	pageSize int
	pick     func(pool []string) string

	handlers map[string]Handler
	commands []Command
}

func New(g Game, out Messenger, opts Options) *Router {
	if opts.Phrases == nil {
		opts.Phrases = DefaultPhrases()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Pick == nil {
		opts.Pick = randomPick
	}

	r := &Router{
		game:     g,
		out:      out,
		phrases:  opts.Phrases,
		pageSize: opts.PageSize,
		pick:     opts.Pick,
		handlers: make(map[string]Handler),
	}

	r.handle(Command{Name: "start", Description: "Show the rules"}, r.rules)
	r.alias("rules", "start")
	r.handle(Command{Name: "shrug", Description: `¯\_(ツ)_/¯`}, r.shrug)
	r.handle(Command{Name: "register", Description: "Join the game", GroupOnly: true}, r.register)
	r.handle(Command{Name: "unregister", Description: "Leave the game", GroupOnly: true}, r.unregister)
	r.handle(Command{Name: "choose_winner", Description: "Choose today's winner", GroupOnly: true}, r.chooseWinner)
	r.handle(Command{Name: "stats", Description: "Top winners of the month", GroupOnly: true}, r.stats)
	r.handle(Command{Name: "list_players", Description: "Call all players", GroupOnly: true}, r.listPlayers)
	r.alias("all", "list_players")

	return r
}

// handle registers h under cmd.Name wrapped in the logging and, for group
// commands, the group-only guard.
func (r *Router) handle(cmd Command, h Handler) {
	if cmd.GroupOnly {
		h = r.requireGroup(h)
	}
	r.handlers[cmd.Name] = r.logged(cmd.Name, h)
	r.commands = append(r.commands, cmd)
}

func (r *Router) alias(name, target string) {
	r.handlers[name] = r.handlers[target]
}

// Commands lists the registered commands, aliases excluded.
func (r *Router) Commands() []Command {
	return append([]Command(nil), r.commands...)
}

// Dispatch runs the handler for msg.Command. It reports false for commands
// it does not know.
func (r *Router) Dispatch(ctx context.Context, msg bus.InboundMessage) (bool, error) {
	h, ok := r.handlers[msg.Command]
	if !ok {
		return false, nil
	}
	return true, h(ctx, msg)
}

func (r *Router) logged(name string, next Handler) Handler {
	return func(ctx context.Context, msg bus.InboundMessage) error {
		logger.Info("command received",
			zap.Int64("chat_id", msg.ChatID),
			zap.String("command", name),
			zap.String("args", msg.Args),
			zap.String("user", r.out.DisplayName(msg.ChatID, msg.SenderID, true)))
		return next(ctx, msg)
	}
}

func (r *Router) requireGroup(next Handler) Handler {
	return func(ctx context.Context, msg bus.InboundMessage) error {
		if !msg.IsGroup() {
			return r.send(msg.ChatID, r.phrases.AccessDenied)
		}
		return next(ctx, msg)
	}
}

func (r *Router) send(chatID int64, text string) error {
	if err := r.out.Send(bus.OutboundMessage{ChatID: chatID, Content: text}); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (r *Router) name(chatID, userID int64, mention bool) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, r.out.DisplayName(chatID, userID, mention))
}

func (r *Router) rules(ctx context.Context, msg bus.InboundMessage) error {
	return r.send(msg.ChatID, r.phrases.Rules)
}

func (r *Router) shrug(ctx context.Context, msg bus.InboundMessage) error {
	return r.send(msg.ChatID, r.phrases.Shrug)
}

func (r *Router) register(ctx context.Context, msg bus.InboundMessage) error {
	text := r.phrases.AddedToGame
	if r.game.Register(msg.ChatID, msg.SenderID) == game.AlreadyRegistered {
		text = r.phrases.AlreadyInGame
	}
	return r.send(msg.ChatID, text)
}

func (r *Router) unregister(ctx context.Context, msg bus.InboundMessage) error {
	text := r.phrases.RemovedFromGame
	if r.game.Unregister(msg.ChatID, msg.SenderID) == game.NotRegistered {
		text = r.phrases.NotInGame
	}
	return r.send(msg.ChatID, text)
}

func (r *Router) chooseWinner(ctx context.Context, msg bus.InboundMessage) error {
	sel, err := r.game.ChooseWinner(msg.ChatID, func(stage int) error {
		if stage >= len(r.phrases.Suspense) {
			return nil
		}
		return r.send(msg.ChatID, r.pick(r.phrases.Suspense[stage]))
	})
	if err != nil {
		return fmt.Errorf("choose winner: %w", err)
	}

	switch sel.Status {
	case game.StatusWinnerKnown:
		return r.send(msg.ChatID, fmt.Sprintf(r.phrases.WinnerKnownFmt, r.name(msg.ChatID, sel.Winner, true)))
	case game.StatusNoPlayers:
		return r.send(msg.ChatID, r.phrases.NoPlayers)
	case game.StatusOnlyOnePlayer:
		return r.send(msg.ChatID, r.phrases.OnlyOnePlayer)
	default:
		return r.send(msg.ChatID, fmt.Sprintf(r.pick(r.phrases.WinnerFmt), r.name(msg.ChatID, sel.Winner, true)))
	}
}

func (r *Router) stats(ctx context.Context, msg bus.InboundMessage) error {
	standings := r.game.TopWinnersOfMonth(msg.ChatID)
	if len(standings) == 0 {
		return r.send(msg.ChatID, r.phrases.NoWinners)
	}

	lines := []string{r.phrases.StatsHeader, ""}
	for i, s := range standings {
		lines = append(lines, fmt.Sprintf(r.phrases.StatsRowFmt, i+1, r.name(msg.ChatID, s.UserID, false), s.Wins))
	}
	lines = append(lines, "", fmt.Sprintf(r.phrases.StatsFooterFmt, len(r.game.Players(msg.ChatID))))
	return r.send(msg.ChatID, strings.Join(lines, "\n"))
}

func (r *Router) listPlayers(ctx context.Context, msg bus.InboundMessage) error {
	players := r.game.Players(msg.ChatID)
	if len(players) == 0 {
		return r.send(msg.ChatID, r.phrases.NoPlayers)
	}

	for start := 0; start < len(players); start += r.pageSize {
		end := min(start+r.pageSize, len(players))
		names := make([]string, 0, end-start)
		for _, id := range players[start:end] {
			names = append(names, r.name(msg.ChatID, id, true))
		}
		text := strings.Join(names, " ")
		if start == 0 {
			text = r.phrases.PlayersHeader + "\n" + text
		}
		if err := r.send(msg.ChatID, text); err != nil {
			return err
		}
	}
	return nil
}

func randomPick(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.IntN(len(pool))]
}
