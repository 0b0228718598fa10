package domain

// Backlog is an item on the owner's single ordered backlog list. Date holds
// the day the detail text was last touched.
type Backlog struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Detail string `json:"detail"`
	Order  int    `json:"order"`

	ETag string `json:"-"`
}
