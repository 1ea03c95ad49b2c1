package monitor

// HasChanged reports whether current differs from previous.
//
// An empty current snapshot means the fetch failed and is never a change,
// so a transient outage cannot raise an alert.
func HasChanged(previous, current string) bool {
	return current != "" && previous != current
}
