package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/mmifviz/internal/output"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <bundle.mmif|->",
	Short: "Cache a MMIF bundle and render its visualization",
	Long: "Upload stores the bundle under its content hash, writes the index page, " +
		"captions for ASR views and page lists for OCR views, then evicts old " +
		"visualizations if the cache is over budget. Uploading the same bundle " +
		"again reuses its entry.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bundle, err := readBundle(cmd, args[0])
		if err != nil {
			fail(err)
			return
		}
		withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.pipeline.Upload(ctx, bundle)
			if err != nil {
				return err
			}
			a.write(cmd, &output.Report{Upload: &res, Evict: a.evict(ctx)})
			return nil
		})
	},
}

func readBundle(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading bundle from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	return data, nil
}
