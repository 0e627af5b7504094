package crawler

// QueueItem is one admitted URL waiting in the frontier.
type QueueItem struct {
	Handle    string `json:"handle"`
	URL       string `json:"url"`
	Depth     int    `json:"depth"`
	Referrer  string `json:"referrer,omitempty"`
	Submitted int64  `json:"submitted"`
}

// RemoveFunc adapts a plain function to WorkRemover.
type RemoveFunc func(handle string) int

// RemoveByProfile calls f(handle).
func (f RemoveFunc) RemoveByProfile(handle string) int {
	return f(handle)
}
