package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"automod/internal/bot"
	"automod/internal/config"
	"automod/internal/rules"
	"automod/internal/site"
	"automod/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "automod",
	Short: "automod - declarative moderation bot",
	Long: `automod polls community moderation queues and applies the rule
documents that moderators maintain on their community wiki pages.

Rules are YAML sections describing patterns to match against submissions
and comments, author requirements, and the actions to take on a match.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the moderation loop",
	Long: `Logs in, loads the enabled communities' rule sets, and cycles
over the submission, comment, spam and report queues until interrupted.`,
	RunE: runBot,
}

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a rule document without running",
	Long: `Parses and validates a local rule document, reporting the first
invalid section. Standard condition references resolve against the
configured database.`,
	Args: cobra.ExactArgs(1),
	RunE: checkRules,
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if lvl, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil && !verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(lvl))
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	client := site.NewHTTPClient(site.HTTPConfig{
		BaseURL:   cfg.Site.BaseURL,
		Username:  cfg.Site.Username,
		Password:  cfg.Site.Password,
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.SiteTimeout(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bot.New(cfg, client, st, logger)
	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func checkRules(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	std := rules.NewStandards(st)
	if _, err := std.Refresh(); err != nil {
		return err
	}

	conds, err := rules.LoadRuleSet(string(data), std)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("ok: %d conditions\n", len(conds))
	return nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"automod.yaml", "path to config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
