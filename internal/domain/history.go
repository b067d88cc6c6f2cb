// Package domain contains core domain types shared by the relay and the client.
package domain

// MaxHistory bounds the number of image generations kept in history.
const MaxHistory = 10

// HistoryEntry records one successful image generation. ImageURI holds the
// compressed image as a data URI.
type HistoryEntry struct {
	ID        string `json:"id"`
	Prompt    string `json:"prompt"`
	ImageURI  string `json:"imageURI"`
	Steps     int    `json:"steps"`
	Timestamp int64  `json:"timestamp"`
}
