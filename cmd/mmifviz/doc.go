// Mmifviz renders MMIF annotation bundles as static HTML visualizations.
//
// Each bundle is stored in a content-addressed cache directory together with
// an index page, WebVTT captions for speech recognition views and paginated
// frame views for OCR output. The least recently used visualizations are
// evicted when the cache grows past its budget.
//
// Usage:
//
//	mmifviz upload bundle.mmif          # cache a bundle and render its index
//	mmifviz page <entry> <view> 0       # render the first page of an OCR view
//	mmifviz cache show [entry]          # list entries or summarize one
//	mmifviz cache clear [entry...]      # remove entries, or everything
//	mmifviz cache evict                 # evict down to the budget
//	mmifviz config set cache.maxBytes 1000000000
package main
