package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dshills/mmifviz/internal/fsx"
	"github.com/dshills/mmifviz/internal/output"
	"github.com/dshills/mmifviz/internal/render"
)

var (
	flagVideo string
	flagOut   string
)

var pageCmd = &cobra.Command{
	Use:   "page <entry> <view> <n>",
	Short: "Render one page of an OCR view",
	Long: "Page decodes the frames on page n of a prepared OCR view, writes them as " +
		"images inside the entry and writes the page as HTML. By default the page " +
		"goes next to the entry's index and the video is the bundle's first video document.",
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 0 {
			fmt.Fprintf(os.Stderr, "Error: page number must be a non-negative integer, got %q\n", args[2])
			exitCode = ExitUsageError
			return
		}
		entryID, viewID := args[0], args[1]
		withApp(cmd, func(ctx context.Context, a *app) error {
			html, err := a.pipeline.RenderPage(ctx, entryID, flagVideo, viewID, n)
			if err != nil {
				return err
			}
			path := flagOut
			if path == "" {
				entry, err := a.store.Lookup(entryID)
				if err != nil {
					return err
				}
				path = filepath.Join(entry.Dir, render.PageFileName(viewID, n))
			}
			if err := fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), []byte(html)); err != nil {
				if errors.Is(err, fs.ErrNotExist) && flagOut == "" {
					return fmt.Errorf("%w: %w", render.ErrCacheMiss, err)
				}
				return fmt.Errorf("writing page: %w", err)
			}
			a.write(cmd, &output.Report{
				Page:  &output.PageReport{Entry: entryID, View: viewID, Page: n, Path: path},
				Evict: a.evict(ctx),
			})
			return nil
		})
	},
}

func init() {
	pageCmd.Flags().StringVar(&flagVideo, "video", "", "Video file to read frames from (default: the bundle's video document)")
	pageCmd.Flags().StringVar(&flagOut, "out", "", "Output HTML path (default: inside the cache entry)")
}
