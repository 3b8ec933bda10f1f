package telemetry

// Attribute names used on pic2md spans and metrics

const (
	// Run attributes
	AttrRunID          = "pic2md.run.id"           // Unique run identifier
	AttrRunStage       = "pic2md.run.stage"        // Terminal stage (Done/Failed)
	AttrRunPages       = "pic2md.run.pages"        // Number of pages in the series
	AttrRunFailedPages = "pic2md.run.failed_pages" // Pages that could not be recognised
	AttrRunError       = "pic2md.run.error"        // Error message if the run failed
	AttrSeriesTitle    = "pic2md.series.title"     // Derived series title

	// Backend attributes
	AttrBackend = "pic2md.backend" // OCR backend kind (e.g., "baidu")

	// Page attributes
	AttrPageIndex     = "pic2md.page.index"      // Position in series order
	AttrPageNumber    = "pic2md.page.number"     // Page number parsed from the filename
	AttrPageBytes     = "pic2md.page.bytes"      // Submitted image size
	AttrPageAttempts  = "pic2md.page.attempts"   // OCR attempts made
	AttrPageCached    = "pic2md.page.cached"     // Served from the page cache
	AttrPageErrorKind = "pic2md.page.error_kind" // Normalised OCR error kind
	AttrPageError     = "pic2md.page.error"      // Sanitised error message

	// Cache attributes
	AttrCacheHit       = "cache.hit"       // Cache hit (boolean)
	AttrCacheOperation = "cache.operation" // Cache operation (get/set)
)

// Span names
const (
	SpanNameRun  = "pic2md.run"  // One conversion run
	SpanNamePage = "pic2md.page" // Recognition of one page, child of the run span
)
