package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/winnerbot/internal/config"
	"github.com/stellarlinkco/winnerbot/internal/game"
	"github.com/stellarlinkco/winnerbot/internal/gateway"
	"github.com/stellarlinkco/winnerbot/internal/logger"
	"github.com/stellarlinkco/winnerbot/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "winnerbot",
	Short:         "winnerbot - Telegram winner of the day game",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot",
	RunE:  runBot,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write a default config file",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show config and state file status",
	RunE:  runStatus,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print a chat's monthly leaderboard from the state file",
	RunE:  runStats,
}

const monthLayout = "2006-01"

var (
	configFlag string
	chatFlag   int64
	monthFlag  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ~/.winnerbot/config.json)")
	statsCmd.Flags().Int64Var(&chatFlag, "chat", 0, "chat id")
	statsCmd.Flags().StringVar(&monthFlag, "month", "", "month as YYYY-MM (default current)")
	_ = statsCmd.MarkFlagRequired("chat")
	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.LoadConfigFrom(configFlag)
	}
	return config.LoadConfig()
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
		return nil
	}
	if err := config.SaveConfig(config.DefaultConfig()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Put the bot token in %s or set WINNERBOT_TOKEN\n", config.DefaultTokenFile)
	fmt.Fprintln(out, "  2. Run 'winnerbot run'")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", configPathDisplay())
	fmt.Fprintf(out, "State: %s\n", cfg.StatePath())

	if st, err := store.Load(cfg.StatePath()); err != nil {
		fmt.Fprintf(out, "Chats: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Chats: %d\n", len(st.Chats()))
	}

	switch _, err := cfg.ResolveToken(); {
	case err == nil:
		fmt.Fprintln(out, "Token: set")
	case errors.Is(err, config.ErrNoToken):
		fmt.Fprintln(out, "Token: not set")
	default:
		fmt.Fprintf(out, "Token: error (%v)\n", err)
	}

	fmt.Fprintf(out, "Day offset: %s\n", cfg.DayOffset())
	fmt.Fprintf(out, "Suspense delay: %s\n", cfg.SuspenseDelay())
	return nil
}

func configPathDisplay() string {
	if configFlag != "" {
		return configFlag
	}
	return config.ConfigPath()
}

func runStats(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if monthFlag != "" {
		if _, err := time.Parse(monthLayout, monthFlag); err != nil {
			return fmt.Errorf("invalid --month %q: want YYYY-MM", monthFlag)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Load(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}

	g := game.New(st, game.Options{DayOffset: cfg.DayOffset(), LeaderboardSize: cfg.Game.LeaderboardSize})
	month := monthFlag
	if month == "" {
		month = g.Today()[:len(monthLayout)]
	}

	standings := game.TopWinners(st.Winners(chatFlag), month, cfg.Game.LeaderboardSize)
	if len(standings) == 0 {
		fmt.Fprintf(out, "No winners in %s for chat %d\n", month, chatFlag)
		return nil
	}

	fmt.Fprintf(out, "Top winners of %s for chat %d\n\n", month, chatFlag)
	for i, s := range standings {
		fmt.Fprintf(out, "%d. %d — %d\n", i+1, s.UserID, s.Wins)
	}
	fmt.Fprintf(out, "\nPlayers in the game: %d\n", len(st.Players(chatFlag)))
	return nil
}
