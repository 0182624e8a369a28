package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"licensure/internal/adapters/storage/slot"
	"licensure/internal/application/orchestrators"
	"licensure/internal/config"
)

var (
	cfgFile string
	v       = viper.New()
)

// rootCmd runs the wizard server when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "licensure",
	Short: "Role wizard for licensure competencies and tasks.",
	Long: `licensure serves a step-by-step role wizard. Each choice is kept in a
per-visitor filter slot so later pages, and later visits, pick up where the
visitor left off.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		setupLogging(cfg)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		ctx, stop := notifyContext()
		defer stop()
		return serve(ctx, cfg)
	},
}

// flowsCmd prints the compiled flow table.
var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Print the flow table and page keys as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := buildResolver()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"flows":     resolver.Table(),
			"page_keys": resolver.Keys(),
		})
	},
}

// purgeCmd runs one stale-slot purge against the durable store.
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete durable filter slots idle for longer than slot_ttl",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		if cfg.StorageScope != config.ScopeDurable {
			return fmt.Errorf("purge needs storage_scope=%s, have %s", config.ScopeDurable, cfg.StorageScope)
		}
		db, err := openDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		n, err := orchestrators.ExecutePurgeStaleSlots(ctx, orchestrators.PurgeSlotsDeps{
			Slots: slot.NewSQLiteStore(db),
			TTL:   cfg.SlotTTL,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d slot(s)\n", n)
		return nil
	},
}

func init() {
	config.SetDefaults(v)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.licensure.yaml)")
	flags.String(config.KeyAddr, ":8080", "listen address")
	flags.String("db", "licensure.db", "SQLite database path (durable scope)")
	flags.String("scope", string(config.ScopeDurable), "filter storage scope: durable or session")
	flags.String("back-clear", "leaving", "key a back step removes: leaving or entering")
	flags.StringP("loglevel", "l", "info", "log level: debug, info, warn, error")

	for key, flag := range map[string]string{
		config.KeyAddr:         config.KeyAddr,
		config.KeyDBPath:       "db",
		config.KeyStorageScope: "scope",
		config.KeyBackClear:    "back-clear",
		config.KeyLogLevel:     "loglevel",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(flowsCmd, purgeCmd)
}

// initConfig reads the config file, if any. Environment variables and flags
// still apply when no file exists.
func initConfig() error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return err
		}
		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName(".licensure")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config %s: %w", filepath.Base(v.ConfigFileUsed()), err)
	}
	fmt.Fprintf(os.Stderr, "using config %s\n", v.ConfigFileUsed())
	return nil
}
