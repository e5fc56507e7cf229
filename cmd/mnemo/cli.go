package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/mnemo/pkg/config"
	"github.com/dotsetgreg/mnemo/pkg/memory"
)

var (
	flagConfig string
	flagDB     string
)

func executeCLI() error {
	root := buildRootCommand()
	return root.Execute()
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mnemo",
		Short: "Embedded memory store and analytics engine for AI assistants",
		Long: strings.TrimSpace(`mnemo persists short text memories tagged by owner and category,
and derives frequency patterns and per-user profiles from them.

All commands operate directly on the local store; there is no server.
Authorization is the caller's concern: mnemo trusts the owner id it is given.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to JSON config file")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "Path to the memory database (overrides config)")

	root.AddCommand(newRememberCommand())
	root.AddCommand(newRecallCommand())
	root.AddCommand(newFindCommand())
	root.AddCommand(newGetCommand())
	root.AddCommand(newStatsCommand())
	root.AddCommand(newProfileCommand())
	root.AddCommand(newPatternsCommand())
	root.AddCommand(newPruneCommand())
	root.AddCommand(newCompactCommand())
	root.AddCommand(newJanitorCommand())
	return root
}

func openEngine() (*memory.Engine, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	engineCfg := cfg.EngineConfig()
	if flagDB != "" {
		engineCfg.Path = flagDB
	}
	return memory.NewEngine(engineCfg)
}

func newRememberCommand() *cobra.Command {
	var (
		owner    int64
		category string
		meta     []string
	)
	cmd := &cobra.Command{
		Use:     "remember [content...]",
		Short:   "Store one memory for an owner",
		Example: `  mnemo remember --owner 42 --category annotation "Parable of the hidden treasure"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			id, err := engine.Store(cmd.Context(), owner, strings.Join(args, " "), category, metadata, nil)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id the memory belongs to")
	cmd.Flags().StringVar(&category, "category", memory.CategoryAnnotation, "Category tag")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata entry as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newRecallCommand() *cobra.Command {
	var (
		owner    int64
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "List an owner's memories, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			memories, err := engine.Retrieve(cmd.Context(), owner, category, limit)
			if err != nil {
				return err
			}
			printMemories(memories)
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id to list")
	cmd.Flags().StringVar(&category, "category", "", "Restrict to one category")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newFindCommand() *cobra.Command {
	var (
		owner int64
		limit int
	)
	cmd := &cobra.Command{
		Use:     "find <substring>",
		Short:   "Search an owner's memories by content substring",
		Example: `  mnemo find --owner 7 treasure`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			memories, err := engine.Search(cmd.Context(), owner, args[0], limit)
			if err != nil {
				return err
			}
			printMemories(memories)
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id to search")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one memory by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			m, err := engine.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if m == nil {
				fmt.Println("not found")
				return nil
			}
			return printJSON(m)
		},
	}
}

func newStatsCommand() *cobra.Command {
	var owner int64
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory counts, date range and query performance for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			stats, err := engine.GetMemoryStats(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newProfileCommand() *cobra.Command {
	var owner int64
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Derive a behavioral profile for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			profile, err := engine.GetUserProfile(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(profile)
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newPatternsCommand() *cobra.Command {
	var owner int64
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Mine token and category frequency patterns for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			patterns, err := engine.AnalyzePatterns(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(patterns)
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newPruneCommand() *cobra.Command {
	var (
		owner int64
		days  int
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Irreversibly delete an owner's memories older than N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			removed, err := engine.PruneOlderThan(cmd.Context(), owner, days)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d\n", removed)
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	cmd.Flags().IntVar(&days, "days", 30, "Age cutoff in days")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newCompactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Run storage-level reclaim and statistics refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.Compact(cmd.Context())
		},
	}
}

func newJanitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "janitor",
		Short: "Run scheduled housekeeping (compaction + retention sweeps) until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			engineCfg := cfg.EngineConfig()
			if flagDB != "" {
				engineCfg.Path = flagDB
			}
			engine, err := memory.NewEngine(engineCfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			janitor, err := memory.NewJanitor(engine, cfg.JanitorConfig())
			if err != nil {
				return err
			}
			janitor.Start()
			defer janitor.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}

func parseMetadata(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata entry %q, want key=value", entry)
		}
		out[key] = value
	}
	return out, nil
}

func printMemories(memories []memory.Memory) {
	for _, m := range memories {
		fmt.Printf("%s\t%s\t%s\t%s\n", m.ID, m.CreatedAt.Format("2006-01-02 15:04"), m.Category, m.Content)
	}
	fmt.Printf("%d memories\n", len(memories))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
