package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/mmifviz/internal/output"
	"github.com/dshills/mmifviz/internal/render"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the visualization cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show [entry]",
	Short: "Show cache statistics, or summarize one entry",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, func(ctx context.Context, a *app) error {
			if len(args) == 1 {
				return showEntry(cmd, a, args[0])
			}
			stats, err := a.store.Stats()
			if err != nil {
				return fmt.Errorf("reading cache stats: %w", err)
			}
			entries, err := a.store.Entries()
			if err != nil {
				return fmt.Errorf("listing cache entries: %w", err)
			}
			a.write(cmd, &output.Report{Cache: &output.CacheReport{Stats: stats, Entries: entries}})
			return nil
		})
	},
}

func showEntry(cmd *cobra.Command, a *app, id string) error {
	entry, err := a.store.Lookup(id)
	if err != nil {
		return err
	}
	f, err := os.Open(entry.IndexPath())
	if err != nil {
		return fmt.Errorf("%w: %w", render.ErrCacheMiss, err)
	}
	defer f.Close()
	sum, err := render.Summarize(f)
	if err != nil {
		return err
	}
	a.write(cmd, &output.Report{Index: &sum})
	return nil
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [entry...]",
	Short: "Delete the given entries, or every cached visualization",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, func(ctx context.Context, a *app) error {
			ids := args
			if len(ids) == 0 {
				entries, err := a.store.Entries()
				if err != nil {
					return fmt.Errorf("listing cache entries: %w", err)
				}
				for _, e := range entries {
					ids = append(ids, e.ID)
				}
			}
			for _, id := range ids {
				if err := a.pages.DeleteEntry(ctx, id); err != nil {
					return fmt.Errorf("deleting pages of %s: %w", id, err)
				}
			}
			if err := a.store.InvalidateAll(args...); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			stats, err := a.store.Stats()
			if err != nil {
				return fmt.Errorf("reading cache stats: %w", err)
			}
			a.write(cmd, &output.Report{Cache: &output.CacheReport{Stats: stats, Cleared: ids}})
			return nil
		})
	},
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Evict least recently used entries until the cache fits its budget",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, func(ctx context.Context, a *app) error {
			rep, err := a.evictor.Run(ctx)
			if err != nil {
				return fmt.Errorf("evicting: %w", err)
			}
			a.write(cmd, &output.Report{Evict: &rep})
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheEvictCmd)
}
