package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultTokenFile       = "token.txt"
	DefaultStateFileName   = "memory_dump.json"
	DefaultPollTimeout     = 30
	DefaultDayOffsetHours  = 3
	DefaultSuspenseDelay   = "1.5s"
	DefaultLeaderboardSize = 10
	DefaultPageSize        = 10
	DefaultLogLevel        = "info"
)

var ErrNoToken = errors.New("telegram bot token is not set")

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Storage  StorageConfig  `json:"storage"`
	Game     GameConfig     `json:"game"`
	Log      LogConfig      `json:"log"`
}

type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	TokenFile   string `json:"tokenFile"`
	Proxy       string `json:"proxy,omitempty"`
	PollTimeout int    `json:"pollTimeout"`
}

type StorageConfig struct {
	Dir      string `json:"dir"`
	FileName string `json:"fileName"`
}

type GameConfig struct {
	DayOffsetHours  int    `json:"dayOffsetHours"`
	SuspenseDelay   string `json:"suspenseDelay"`
	LeaderboardSize int    `json:"leaderboardSize"`
	PageSize        int    `json:"pageSize"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			TokenFile:   DefaultTokenFile,
			PollTimeout: DefaultPollTimeout,
		},
		Storage: StorageConfig{
			Dir:      ".",
			FileName: DefaultStateFileName,
		},
		Game: GameConfig{
			DayOffsetHours:  DefaultDayOffsetHours,
			SuspenseDelay:   DefaultSuspenseDelay,
			LeaderboardSize: DefaultLeaderboardSize,
			PageSize:        DefaultPageSize,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".winnerbot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// LoadConfig reads the default config file. See LoadConfigFrom.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom reads path (a missing file is fine), then .env from the
// working directory, then environment overrides.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Existing environment wins over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if _, err := time.ParseDuration(cfg.Game.SuspenseDelay); err != nil {
		return nil, fmt.Errorf("parse game.suspenseDelay %q: %w", cfg.Game.SuspenseDelay, err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if token := os.Getenv("WINNERBOT_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if tokenFile := os.Getenv("WINNERBOT_TOKEN_FILE"); tokenFile != "" {
		cfg.Telegram.TokenFile = tokenFile
	}
	if proxy := os.Getenv("WINNERBOT_PROXY"); proxy != "" {
		cfg.Telegram.Proxy = proxy
	}
	if dir := os.Getenv("MEMORY_DIR"); dir != "" {
		cfg.Storage.Dir = dir
	}
	if level := os.Getenv("WINNERBOT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if offset := os.Getenv("WINNERBOT_DAY_OFFSET_HOURS"); offset != "" {
		parsed, err := strconv.Atoi(offset)
		if err != nil {
			return fmt.Errorf("parse WINNERBOT_DAY_OFFSET_HOURS %q: %w", offset, err)
		}
		cfg.Game.DayOffsetHours = parsed
	}
	if delay := os.Getenv("WINNERBOT_SUSPENSE_DELAY"); delay != "" {
		cfg.Game.SuspenseDelay = delay
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Telegram.TokenFile == "" {
		cfg.Telegram.TokenFile = DefaultTokenFile
	}
	if cfg.Telegram.PollTimeout <= 0 {
		cfg.Telegram.PollTimeout = DefaultPollTimeout
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "."
	}
	if cfg.Storage.FileName == "" {
		cfg.Storage.FileName = DefaultStateFileName
	}
	if cfg.Game.SuspenseDelay == "" {
		cfg.Game.SuspenseDelay = DefaultSuspenseDelay
	}
	if cfg.Game.LeaderboardSize <= 0 {
		cfg.Game.LeaderboardSize = DefaultLeaderboardSize
	}
	if cfg.Game.PageSize <= 0 {
		cfg.Game.PageSize = DefaultPageSize
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// StatePath is the location of the persisted chat state.
func (c *Config) StatePath() string {
	return filepath.Join(c.Storage.Dir, c.Storage.FileName)
}

// SuspenseDelay returns the pause between suspense announcements.
func (c *Config) SuspenseDelay() time.Duration {
	d, err := time.ParseDuration(c.Game.SuspenseDelay)
	if err != nil {
		d, _ = time.ParseDuration(DefaultSuspenseDelay)
	}
	return d
}

// DayOffset is the shift applied to UTC before truncating to a date.
func (c *Config) DayOffset() time.Duration {
	return time.Duration(c.Game.DayOffsetHours) * time.Hour
}

// ResolveToken returns the inline token if set, otherwise the first line
// of the token file.
func (c *Config) ResolveToken() (string, error) {
	if token := strings.TrimSpace(c.Telegram.Token); token != "" {
		return token, nil
	}

	f, err := os.Open(c.Telegram.TokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		if token := strings.TrimSpace(scanner.Text()); token != "" {
			return token, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return "", ErrNoToken
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
