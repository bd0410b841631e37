// Package game implements the daily winner game: player registration,
// one memoized draw per chat per day, and the monthly leaderboard.
package game

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/stellarlinkco/winnerbot/internal/logger"
	"go.uber.org/zap"
)

const (
	// SuspenseStages is the number of announcements made before a draw.
	SuspenseStages = 3

	dayLayout = "2006-01-02"
)

var errEmptyDraw = errors.New("draw from empty player list")

// Store is the persistence the game needs. Mutating calls commit.
type Store interface {
	Players(chatID int64) []int64
	AddPlayer(chatID, userID int64) bool
	RemovePlayer(chatID, userID int64) bool
	Winner(chatID int64, day string) (int64, bool)
	SetWinner(chatID int64, day string, userID int64)
	Winners(chatID int64) map[string]int64
}

type RegisterOutcome int

const (
	AlreadyRegistered RegisterOutcome = iota
	Added
)

type UnregisterOutcome int

const (
	NotRegistered UnregisterOutcome = iota
	Removed
)

// Status is the outcome of a choose-winner request.
type Status int

const (
	StatusWinnerKnown Status = iota
	StatusNoPlayers
	StatusOnlyOnePlayer
	StatusChosen
)

func (s Status) String() string {
	switch s {
	case StatusWinnerKnown:
		return "winner_known"
	case StatusNoPlayers:
		return "no_players"
	case StatusOnlyOnePlayer:
		return "only_one_player"
	case StatusChosen:
		return "chosen"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Selection reports what a choose-winner request did. Winner is set for
// StatusWinnerKnown and StatusChosen.
type Selection struct {
	Status Status
	Winner int64
	Day    string
}

type Options struct {
	DayOffset       time.Duration
	SuspenseDelay   time.Duration
	LeaderboardSize int
	Now             func() time.Time
	Sleep           func(time.Duration)
}

type Game struct {
	store Store
	opts  Options

	mu        sync.Mutex
	chatLocks map[int64]*sync.Mutex
}

var drawRandomIndex = secureRandomIndex

func New(store Store, opts Options) *Game {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = 10
	}
	return &Game{
		store:     store,
		opts:      opts,
		chatLocks: make(map[int64]*sync.Mutex),
	}
}

// DayKey is the calendar date of t shifted from UTC by offset.
func DayKey(t time.Time, offset time.Duration) string {
	return t.UTC().Add(offset).Format(dayLayout)
}

// Today returns the current day key.
func (g *Game) Today() string {
	return DayKey(g.opts.Now(), g.opts.DayOffset)
}

func (g *Game) Register(chatID, userID int64) RegisterOutcome {
	if !g.store.AddPlayer(chatID, userID) {
		return AlreadyRegistered
	}
	return Added
}

func (g *Game) Unregister(chatID, userID int64) UnregisterOutcome {
	if !g.store.RemovePlayer(chatID, userID) {
		return NotRegistered
	}
	return Removed
}

func (g *Game) Players(chatID int64) []int64 {
	return g.store.Players(chatID)
}

func (g *Game) chatLock(chatID int64) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		g.chatLocks[chatID] = l
	}
	return l
}

// ChooseWinner runs one choose-winner request for chatID. When a draw
// happens, onStage is called for each suspense stage (0-based) followed by
// the suspense delay. The day key is computed once per call, and the whole
// flow holds the chat's lock so overlapping requests cannot draw twice.
func (g *Game) ChooseWinner(chatID int64, onStage func(stage int) error) (Selection, error) {
	lock := g.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	day := g.Today()
	if winner, ok := g.store.Winner(chatID, day); ok {
		return Selection{Status: StatusWinnerKnown, Winner: winner, Day: day}, nil
	}

	switch players := g.store.Players(chatID); len(players) {
	case 0:
		return Selection{Status: StatusNoPlayers, Day: day}, nil
	case 1:
		return Selection{Status: StatusOnlyOnePlayer, Day: day}, nil
	}

	for stage := 0; stage < SuspenseStages; stage++ {
		if onStage != nil {
			if err := onStage(stage); err != nil {
				return Selection{}, fmt.Errorf("suspense stage %d: %w", stage, err)
			}
		}
		g.opts.Sleep(g.opts.SuspenseDelay)
	}

	// The list may have changed while announcing.
	players := g.store.Players(chatID)
	if len(players) < 2 {
		status := StatusNoPlayers
		if len(players) == 1 {
			status = StatusOnlyOnePlayer
		}
		return Selection{Status: status, Day: day}, nil
	}

	idx, err := drawRandomIndex(len(players))
	if err != nil {
		return Selection{}, fmt.Errorf("draw winner: %w", err)
	}
	winner := players[idx]
	g.store.SetWinner(chatID, day, winner)

	logger.Info("winner chosen",
		zap.Int64("chat_id", chatID),
		zap.String("day", day),
		zap.Int64("user_id", winner),
		zap.Int("players", len(players)))

	return Selection{Status: StatusChosen, Winner: winner, Day: day}, nil
}

func secureRandomIndex(n int) (int, error) {
	if n <= 0 {
		return 0, errEmptyDraw
	}
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
