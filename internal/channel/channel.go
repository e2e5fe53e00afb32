// Package channel provides the hidden, non-interactive navigation channel used
// for silent token renewal.
//
// An Agent manages named frames. Open returns the frame for an id, creating it
// blank if needed; Navigate points it at a URL; IsBlank reports whether the
// frame has not started navigating, which callers poll to retry navigations
// the environment silently dropped.
package channel

// Blank is the target of a frame that has not navigated.
const Blank = "about:blank"

// Handle identifies a frame owned by an Agent.
type Handle string

// Agent opens and drives hidden navigation channels.
type Agent interface {
	// Open returns the frame named id, creating it if it does not exist.
	Open(id string) Handle
	// Navigate points the frame at rawURL.
	Navigate(h Handle, rawURL string)
	// IsBlank reports whether the frame has no navigation target.
	IsBlank(h Handle) bool
}

// isBlankTarget reports whether target means "not navigating".
func isBlankTarget(target string) bool {
	return target == "" || target == Blank
}
