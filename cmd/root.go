package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gathertown/grapevine/internal/chat"
	"github.com/gathertown/grapevine/internal/llm"
	"github.com/gathertown/grapevine/internal/output"
	"github.com/gathertown/grapevine/internal/race"
	"github.com/gathertown/grapevine/internal/router"
	"github.com/gathertown/grapevine/internal/store"
	"github.com/gathertown/grapevine/internal/tracker"
	"github.com/gathertown/grapevine/internal/triage"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	logger    *slog.Logger

	verbose bool

	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   "grapevine",
	Short: "Answer orchestration and issue triage for team chat",
	Long: `grapevine answers questions in team chat and triages support
conversations into tracker issues. It races a fast and a thorough answer,
streams progress updates while thinking, and turns triage-channel threads
into create/update/skip decisions against the issue tracker.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/grapevine/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "grapevine")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GRAPEVINE")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "grapevine")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "grapevine.db"))
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.fast_model", "claude-haiku-4-5-20251001")
	viper.SetDefault("anthropic.slow_model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("slack.bot_token", "")
	viper.SetDefault("slack.bot_user_id", "")
	viper.SetDefault("slack.endpoint", "https://slack.com/api")
	viper.SetDefault("linear.api_key", "")
	viper.SetDefault("linear.endpoint", "https://api.linear.app")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// The store is opened lazily so config and version commands run
	// without a database.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

func getLLM() (*llm.Client, error) {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic.api_key is not configured")
	}
	return llm.NewClient(apiKey,
		viper.GetString("anthropic.fast_model"),
		viper.GetString("anthropic.slow_model")), nil
}

func getTracker() (tracker.Client, error) {
	apiKey := viper.GetString("linear.api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("linear.api_key is not configured")
	}
	return tracker.NewLinearClient(apiKey, viper.GetString("linear.endpoint")), nil
}

func getTransport() (chat.Transport, error) {
	token := viper.GetString("slack.bot_token")
	if token == "" {
		return nil, fmt.Errorf("slack.bot_token is not configured")
	}
	return chat.NewSlackTransport(token, viper.GetString("slack.endpoint")), nil
}

// getEngine wires the triage engine from configured dependencies.
func getEngine() (*triage.Engine, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	llmClient, err := getLLM()
	if err != nil {
		return nil, err
	}
	trackerClient, err := getTracker()
	if err != nil {
		return nil, err
	}
	transport, err := getTransport()
	if err != nil {
		return nil, err
	}
	return triage.NewEngine(llmClient, trackerClient, transport, s, logger), nil
}

// getRouter wires the full orchestration core.
func getRouter() (*router.Router, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	llmClient, err := getLLM()
	if err != nil {
		return nil, err
	}
	transport, err := getTransport()
	if err != nil {
		return nil, err
	}
	engine, err := getEngine()
	if err != nil {
		return nil, err
	}

	coord := race.NewCoordinator(llmClient, logger)
	return router.NewRouter(llmClient, transport, s, coord, engine,
		viper.GetString("slack.bot_user_id"), logger), nil
}
