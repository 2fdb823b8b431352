package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultAnchorsPerPage is the number of non-repeat frames per page.
const DefaultAnchorsPerPage = 4

// Page is an ordered run of frames.
type Page []KeyedFrame

// Pages maps a zero-based page number to its page. It serializes as
// {"0": [[key, frame], ...], ...}.
type Pages map[int]Page

// Paginate groups frames into pages. A new page starts before a non-repeat
// frame once the current page holds anchorsPerPage non-repeat frames, so a
// repeat frame always stays on its anchor's page. Empty input yields a single
// empty page.
func Paginate(frames []KeyedFrame, anchorsPerPage int) Pages {
	if anchorsPerPage <= 0 {
		anchorsPerPage = DefaultAnchorsPerPage
	}
	pages := []Page{{}}
	anchors := 0
	for _, kf := range frames {
		if anchors >= anchorsPerPage && !kf.Frame.Repeat {
			pages = append(pages, Page{})
			anchors = 0
		}
		pages[len(pages)-1] = append(pages[len(pages)-1], kf)
		if !kf.Frame.Repeat {
			anchors++
		}
	}
	out := make(Pages, len(pages))
	for i, p := range pages {
		out[i] = p
	}
	return out
}

// ErrPagesNotFound is returned when no page list exists for a view.
var ErrPagesNotFound = errors.New("ocr: pages not found")

// ErrPageOutOfRange is returned for a page number the view does not have.
var ErrPageOutOfRange = errors.New("ocr: page out of range")

// Page returns page n.
func (p Pages) Page(n int) (Page, error) {
	page, ok := p[n]
	if !ok {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, n, len(p))
	}
	return page, nil
}

// PageRepository persists page lists per cache entry and view.
type PageRepository interface {
	SavePages(ctx context.Context, entryID, viewID string, pages Pages) error
	LoadPages(ctx context.Context, entryID, viewID string) (Pages, error)
}

// PagesFileName is the page-list file name for a view inside an entry
// directory. Colons in view ids are not portable in file names.
func PagesFileName(viewID string) string {
	return SafeViewID(viewID) + "-pages.json"
}

// SafeViewID makes a view id usable as a path element.
func SafeViewID(viewID string) string {
	r := strings.NewReplacer(":", "-", "/", "-", "\\", "-")
	return r.Replace(viewID)
}
