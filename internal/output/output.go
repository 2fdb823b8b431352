package output

import (
	"fmt"
	"io"
	"os"

	"github.com/dshills/mmifviz/internal/cache"
	"github.com/dshills/mmifviz/internal/render"
)

// Report is the result of one command. Exactly the sections the command
// produced are set.
type Report struct {
	Upload *render.UploadResult `json:"upload,omitempty"`
	Index  *render.IndexSummary `json:"index,omitempty"`
	Page   *PageReport          `json:"page,omitempty"`
	Cache  *CacheReport         `json:"cache,omitempty"`
	Evict  *cache.EvictReport   `json:"evict,omitempty"`
}

// PageReport describes a rendered page file.
type PageReport struct {
	Entry string `json:"entry"`
	View  string `json:"view"`
	Page  int    `json:"page"`
	Path  string `json:"path"`
}

// CacheReport describes the cache contents or what was removed from it.
type CacheReport struct {
	Stats   cache.Stats       `json:"stats"`
	Entries []cache.EntryInfo `json:"entries,omitempty"`
	Cleared []string          `json:"cleared,omitempty"`
}

// Writer writes a report in a specific format.
type Writer interface {
	Write(w io.Writer, report *Report) error
}

// GetWriter returns a writer for the specified format.
func GetWriter(format string) (Writer, error) {
	switch format {
	case "text":
		return &TextWriter{}, nil
	case "json":
		return &JSONWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteReport writes the report to the specified output (file path or stdout).
func WriteReport(report *Report, format, outPath string) error {
	writer, err := GetWriter(format)
	if err != nil {
		return err
	}

	var w io.Writer
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	} else {
		w = os.Stdout
	}

	return writer.Write(w, report)
}
