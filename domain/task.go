package domain

// Task is a single per-day planner item. Order is its 1-based position within
// the owner's tasks for Date.
type Task struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Title     string `json:"title"`
	Note      string `json:"note"`
	Completed bool   `json:"completed"`
	Order     int    `json:"order"`

	// ETag is the storage concurrency token captured when the task was read.
	ETag string `json:"-"`
}

// Completion aggregates completed vs total task counts for one day.
type Completion struct {
	Date      string `json:"date"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}
