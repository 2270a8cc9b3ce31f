package domain

import "time"

// TimestampLayout is the ISO local date-time layout used for FeedEntry.Timestamp.
// It carries no zone, matching feeds written by earlier producers.
const TimestampLayout = "2006-01-02T15:04:05.999999999"

// FeedEntry is one completed generation request. An entry with no images
// records a failed generation; it is broadcast live but never replayed.
type FeedEntry struct {
	Username  string   `json:"username,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
	Images    []string `json:"images"`
	Timestamp string   `json:"ts"`

	// Seq is the 1-based append position assigned by the feed store.
	Seq uint64 `json:"-"`
}

// Succeeded reports whether the entry carries at least one image.
func (e FeedEntry) Succeeded() bool {
	return len(e.Images) > 0
}

// FormatTimestamp renders t in the feed timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// PromptRequest is the inbound message on the prompt channel.
type PromptRequest struct {
	Prompt   *string `json:"prompt"`
	Username *string `json:"username"`
}
