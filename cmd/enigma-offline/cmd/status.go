package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/spf13/cobra"

	"github.com/meigma/offline"
	"github.com/meigma/offline/internal/server"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the caches in storage and the paths cached by the current version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		storage, closeStorage, err := server.OpenStorage(cfg.Storage)
		if err != nil {
			return err
		}
		defer closeStorage()

		ctx := cmd.Context()
		names, err := storage.Names(ctx)
		if err != nil {
			return fmt.Errorf("list caches: %w", err)
		}
		status := offline.CacheStatus{Cached: []string{}}
		if slices.Contains(names, cfg.CacheName) {
			m, err := offline.New(cfg.Offline(), storage, http.DefaultClient)
			if err != nil {
				return err
			}
			if status, err = m.CacheStatus(ctx); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Caches  []string            `json:"caches"`
				Current string              `json:"current"`
				Status  offline.CacheStatus `json:"status"`
			}{names, cfg.CacheName, status})
		}

		for _, name := range names {
			marker := " "
			if name == cfg.CacheName {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s\n", marker, name)
		}
		fmt.Fprintf(out, "\n%s: %d cached\n", cfg.CacheName, status.Count)
		for _, p := range status.Cached {
			fmt.Fprintf(out, "  %s\n", p)
		}
		return nil
	},
}

var purgeDryRun bool

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete caches left behind by older versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		storage, closeStorage, err := server.OpenStorage(cfg.Storage)
		if err != nil {
			return err
		}
		defer closeStorage()

		m, err := offline.New(cfg.Offline(), storage, http.DefaultClient)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if purgeDryRun {
			names, err := storage.Names(cmd.Context())
			if err != nil {
				return fmt.Errorf("list caches: %w", err)
			}
			for _, name := range names {
				if m.Outdated(name) {
					fmt.Fprintf(out, "would delete %s\n", name)
				}
			}
			return nil
		}

		deleted, err := m.PurgeOutdated(cmd.Context())
		for _, name := range deleted {
			fmt.Fprintf(out, "deleted %s\n", name)
		}
		return err
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
	purgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "list caches without deleting them")
	rootCmd.AddCommand(statusCmd, purgeCmd)
}
