package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gamerank",
		Short:         "Rank games by popularity and serve cached leaderboards",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(refreshCmd())
	root.AddCommand(importCmd())
	root.AddCommand(gameCmd())
	root.AddCommand(signalCmd())
	root.AddCommand(topCmd())

	return root
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the projection scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port, false)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon: HTTP API, scheduler and periodic importers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port, true)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [projection]",
		Short: "Rebuild one projection, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runRefresh(name)
		},
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Run an importer once",
	}

	var limit int
	igdb := &cobra.Command{
		Use:   "igdb",
		Short: "Fill missing metadata and rating counts from IGDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportIGDB(limit)
		},
	}
	igdb.Flags().IntVar(&limit, "limit", 0, "max games to sync (default: from config)")

	feeds := &cobra.Command{
		Use:   "feeds",
		Short: "Count game mentions in news feeds as hypes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportFeeds()
		},
	}

	cmd.AddCommand(igdb, feeds)
	return cmd
}

func gameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Create and inspect games",
	}

	var (
		igdbID  int64
		follows int64
		hypes   int64
		ratings int64
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Add a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGameCreate(args[0], igdbID, follows, hypes, ratings)
		},
	}
	create.Flags().Int64Var(&igdbID, "igdb-id", 0, "IGDB game id")
	create.Flags().Int64Var(&follows, "follows", 0, "initial follows")
	create.Flags().Int64Var(&hypes, "hypes", 0, "initial hypes")
	create.Flags().Int64Var(&ratings, "rating-count", 0, "initial rating count")

	var jsonOutput bool
	get := &cobra.Command{
		Use:   "get <id|slug>",
		Short: "Show a game with its current score and tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGameGet(args[0], jsonOutput)
		},
	}
	get.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	var limit int
	history := &cobra.Command{
		Use:   "history <id|slug>",
		Short: "Show score and tier changes, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGameHistory(args[0], limit)
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "max entries to show")

	cmd.AddCommand(create, get, history)
	return cmd
}

func signalCmd() *cobra.Command {
	var (
		mode   string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "signal <id|slug> <follows|hypes|rating_count|likes|views> <value>",
		Short: "Record a signal change",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignal(args[0], args[1], args[2], mode, reason)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "delta", "delta, set or max")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the history")
	return cmd
}

func topCmd() *cobra.Command {
	var (
		jsonOutput bool
		tier       string
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "top [projection]",
		Short: "Show a ranked projection from its last snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "trending"
			if len(args) == 1 {
				name = args[0]
			}
			return runTop(name, tier, limit, offset, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&tier, "tier", "", "only this tier")
	cmd.Flags().IntVar(&limit, "limit", 20, "max games to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many games")
	return cmd
}
