package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dshills/mmifviz/internal/cache"
	"github.com/dshills/mmifviz/internal/render"
)

// TextWriter outputs a human-readable text report.
type TextWriter struct{}

func (t *TextWriter) Write(w io.Writer, report *Report) error {
	ew := &errWriter{w: w}
	if report.Upload != nil {
		writeUpload(ew, report.Upload)
	}
	if report.Index != nil {
		writeIndex(ew, report.Index)
	}
	if report.Page != nil {
		ew.printf("Page %d of %s written to %s\n", report.Page.Page, report.Page.View, report.Page.Path)
	}
	if report.Cache != nil {
		writeCache(ew, report.Cache)
	}
	if report.Evict != nil {
		writeEvict(ew, report.Evict)
	}
	return ew.err
}

func writeUpload(ew *errWriter, res *render.UploadResult) {
	verb := "Reused"
	if res.Created {
		verb = "Created"
	}
	ew.printf("%s visualization %s\n", verb, res.Entry.ID)
	ew.printf("Directory: %s\n", res.Entry.Dir)
	ew.println(strings.Repeat("─", 60))
	if len(res.Views) == 0 {
		ew.println("No views.")
		return
	}
	for _, v := range res.Views {
		kind := v.Kind
		if kind == "" {
			kind = "-"
		}
		ew.printf("  %-12s %-4s %s\n", v.ID, kind, v.App)
		switch {
		case v.Error != "":
			ew.printf("    error: %s\n", v.Error)
		case v.Pages > 0:
			ew.printf("    %d page(s)", v.Pages)
			if v.Stats != nil {
				ew.printf(", %d frame(s), %d dropped", v.Stats.Frames, v.Stats.Dropped)
			}
			ew.println("")
			if v.Stats != nil {
				for _, reason := range sortedReasons(v.Stats.Reasons) {
					ew.printf("      %s: %d\n", reason, v.Stats.Reasons[reason])
				}
			}
		case v.Caption != "":
			ew.printf("    captions: %s\n", v.Caption)
		}
	}
}

func sortedReasons(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeIndex(ew *errWriter, s *render.IndexSummary) {
	ew.printf("Visualization %s\n", s.EntryID)
	ew.printf("Documents: %s\n", strings.Join(s.Documents, ", "))
	for _, v := range s.Views {
		ew.printf("  %-12s %-6s %-4s", v.ID, v.Status, v.Kind)
		if v.Pages > 0 {
			ew.printf(" %d page(s)", v.Pages)
		}
		ew.println("")
	}
}

func writeCache(ew *errWriter, r *CacheReport) {
	if len(r.Cleared) > 0 {
		ew.printf("Cleared %d entr%s\n", len(r.Cleared), plural(len(r.Cleared), "y", "ies"))
		for _, id := range r.Cleared {
			ew.printf("  %s\n", id)
		}
	}
	ew.printf("Cache: %s\n", r.Stats.Dir)
	ew.printf("Entries: %d (%s)", r.Stats.Entries, FormatBytes(r.Stats.TotalBytes))
	if r.Stats.Staging > 0 {
		ew.printf(", %d staging", r.Stats.Staging)
	}
	ew.println("")
	if len(r.Entries) == 0 {
		return
	}
	ew.println(strings.Repeat("─", 60))
	for _, e := range r.Entries {
		last := "never"
		if !e.LastAccess.IsZero() {
			last = e.LastAccess.Format(time.RFC3339)
		}
		ew.printf("  %s  %10s  %s\n", e.ID, FormatBytes(e.Bytes), last)
	}
}

func writeEvict(ew *errWriter, r *cache.EvictReport) {
	ew.printf("Evicted %d entr%s: %s -> %s\n",
		len(r.Evicted), plural(len(r.Evicted), "y", "ies"), FormatBytes(r.Before), FormatBytes(r.After))
	for _, id := range r.Evicted {
		ew.printf("  %s\n", id)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// FormatBytes renders a byte count with a decimal unit.
func FormatBytes(n int64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "kMGTPE"[exp])
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}
