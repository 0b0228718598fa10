package domain

// Note is the singleton free-text entry for one (owner, date) pair.
type Note struct {
	Date  string `json:"date"`
	Entry string `json:"entry"`

	ETag string `json:"-"`
}

// EmptyNote identifies a note whose entry was empty when it was read. The
// ETag lets the purge delete it only if it is still empty.
type EmptyNote struct {
	UserID string
	Date   string
	ETag   string
}
