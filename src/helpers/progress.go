package helpers

// ProgressFunc receives progress reports from long-running operations. The
// meaning of current and total is operation-specific: pages for store
// resizes, probes for binary searches, nodes for tree validation.
type ProgressFunc func(current, total int64)

// Report invokes progress if it is non-nil. Long loops call this at each
// unit of work so callers can drive progress bars without polling.
func Report(progress ProgressFunc, current, total int64) {
	if progress != nil {
		progress(current, total)
	}
}
