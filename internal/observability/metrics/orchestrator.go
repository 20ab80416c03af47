// Package metrics defines the metric tag conventions shared by the
// background adapters.
package metrics

// Tick result values for the orchestrator loop.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// CloneTags returns a copy of tags so emit sites can add their own keys
// without mutating the caller's map.
func CloneTags(tags map[string]string) map[string]string {
	cp := make(map[string]string, len(tags)+2)
	for k, v := range tags {
		cp[k] = v
	}
	return cp
}
