// Package store keeps per-chat game state in memory and mirrors it to a
// single JSON file after every mutation.
package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/stellarlinkco/winnerbot/internal/logger"
	"go.uber.org/zap"
)

// ChatState is the persisted game state of one chat. Players keep
// registration order and hold no duplicates.
type ChatState struct {
	Players []int64          `json:"players"`
	Winners map[string]int64 `json:"winners"`
}

func newChatState() *ChatState {
	return &ChatState{
		Players: []int64{},
		Winners: make(map[string]int64),
	}
}

func (c *ChatState) clone() ChatState {
	return ChatState{
		Players: slices.Clone(c.Players),
		Winners: maps.Clone(c.Winners),
	}
}

type MemoryStore struct {
	path  string
	mu    sync.Mutex
	chats map[int64]*ChatState
}

// New returns an empty store that commits to path.
func New(path string) *MemoryStore {
	return &MemoryStore{
		path:  path,
		chats: make(map[int64]*ChatState),
	}
}

// Load reads path into a new store. A missing file yields an empty store;
// unreadable or malformed content is an error.
func Load(path string) (*MemoryStore, error) {
	s := New(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("state file not found, starting empty", zap.String("path", path))
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var raw map[int64]*ChatState
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}

	for chatID, state := range raw {
		s.chats[chatID] = normalize(state)
	}
	logger.Info("state loaded", zap.String("path", path), zap.Int("chats", len(s.chats)))
	return s, nil
}

// normalize fills missing collections and collapses duplicate players,
// keeping the first occurrence.
func normalize(state *ChatState) *ChatState {
	if state == nil {
		return newChatState()
	}
	players := make([]int64, 0, len(state.Players))
	seen := make(map[int64]struct{}, len(state.Players))
	for _, id := range state.Players {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		players = append(players, id)
	}
	state.Players = players
	if state.Winners == nil {
		state.Winners = make(map[string]int64)
	}
	return state
}

func (s *MemoryStore) Path() string {
	return s.path
}

// GetOrCreate returns a snapshot of the chat's state, inserting an empty
// state first if the chat is new.
func (s *MemoryStore) GetOrCreate(chatID int64) ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(chatID).clone()
}

func (s *MemoryStore) getLocked(chatID int64) *ChatState {
	state, ok := s.chats[chatID]
	if !ok {
		state = newChatState()
		s.chats[chatID] = state
	}
	return state
}

// Chats returns the known chat ids in ascending order.
func (s *MemoryStore) Chats() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.chats))
}

// Players returns the chat's players in registration order.
func (s *MemoryStore) Players(chatID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.getLocked(chatID).Players)
}

// AddPlayer appends userID and commits. It reports false, without
// committing, if the user is already a player.
func (s *MemoryStore) AddPlayer(chatID, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.getLocked(chatID)
	if slices.Contains(state.Players, userID) {
		return false
	}
	state.Players = append(state.Players, userID)
	logger.Info("players updated",
		zap.Int64("chat_id", chatID),
		zap.Int64s("players", state.Players))
	_ = s.commitLocked()
	return true
}

// RemovePlayer drops userID and commits. It reports false, without
// committing, if the user was not a player.
func (s *MemoryStore) RemovePlayer(chatID, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.getLocked(chatID)
	idx := slices.Index(state.Players, userID)
	if idx < 0 {
		return false
	}
	state.Players = slices.Delete(state.Players, idx, idx+1)
	logger.Info("players updated",
		zap.Int64("chat_id", chatID),
		zap.Int64s("players", state.Players))
	_ = s.commitLocked()
	return true
}

// Winner returns the winner recorded for day, if any.
func (s *MemoryStore) Winner(chatID int64, day string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.getLocked(chatID).Winners[day]
	return userID, ok
}

// SetWinner records userID for day and commits.
func (s *MemoryStore) SetWinner(chatID int64, day string, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.getLocked(chatID)
	state.Winners[day] = userID
	logger.Info("winner recorded",
		zap.Int64("chat_id", chatID),
		zap.String("day", day),
		zap.Int64("user_id", userID))
	_ = s.commitLocked()
}

// Winners returns a copy of the chat's day → winner map.
func (s *MemoryStore) Winners(chatID int64) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.getLocked(chatID).Winners)
}

// Commit writes the whole store to disk. Failures are logged and returned;
// in-memory state is kept either way.
func (s *MemoryStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked()
}

func (s *MemoryStore) commitLocked() error {
	if err := s.save(); err != nil {
		logger.Error("commit state failed", zap.String("path", s.path), zap.Error(err))
		return err
	}
	logger.Debug("state committed", zap.String("path", s.path), zap.Int("chats", len(s.chats)))
	return nil
}

// save replaces the state file via a temp file in the same directory.
func (s *MemoryStore) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.Marshal(s.chats)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
