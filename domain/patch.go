package domain

// TaskPatch is the wire shape of a task update. Absent fields stay nil so the
// service can tell which update group the request targets.
type TaskPatch struct {
	Date      *string `json:"date"`
	Title     *string `json:"title"`
	Note      *string `json:"note"`
	Completed *bool   `json:"completed"`
	Order     *int    `json:"order"`
}

// TaskChange is the validated single-group form of a TaskPatch.
type TaskChange interface{ taskChange() }

// ChangeDate moves the task to another day.
type ChangeDate struct{ Date string }

// ChangeOrder moves the item to a new position within its group.
type ChangeOrder struct{ Order int }

// ChangeText replaces the task's title and/or note without touching order.
type ChangeText struct {
	Title *string
	Note  *string
}

// ChangeCompleted toggles the completed flag.
type ChangeCompleted struct{ Completed bool }

func (ChangeDate) taskChange()      {}
func (ChangeOrder) taskChange()     {}
func (ChangeText) taskChange()      {}
func (ChangeCompleted) taskChange() {}

// Change validates that at most one update group is present and returns the
// corresponding variant. An empty patch yields (nil, nil) and is a no-op.
func (p TaskPatch) Change() (TaskChange, error) {
	groups := 0
	var change TaskChange
	if p.Date != nil {
		groups++
		change = ChangeDate{Date: *p.Date}
	}
	if p.Order != nil {
		groups++
		change = ChangeOrder{Order: *p.Order}
	}
	if p.Title != nil || p.Note != nil {
		groups++
		change = ChangeText{Title: p.Title, Note: p.Note}
	}
	if p.Completed != nil {
		groups++
		change = ChangeCompleted{Completed: *p.Completed}
	}
	if groups > 1 {
		return nil, ErrConflictingUpdate
	}
	return change, nil
}

// BacklogPatch is the wire shape of a backlog update.
type BacklogPatch struct {
	Detail *string `json:"detail"`
	Order  *int    `json:"order"`
}

// BacklogChange is the validated single-group form of a BacklogPatch.
type BacklogChange interface{ backlogChange() }

// ChangeDetail replaces the backlog's detail text and stamps the
// last-touched date.
type ChangeDetail struct{ Detail string }

func (ChangeOrder) backlogChange()  {}
func (ChangeDetail) backlogChange() {}

// Change validates that at most one update group is present.
func (p BacklogPatch) Change() (BacklogChange, error) {
	groups := 0
	var change BacklogChange
	if p.Order != nil {
		groups++
		change = ChangeOrder{Order: *p.Order}
	}
	if p.Detail != nil {
		groups++
		change = ChangeDetail{Detail: *p.Detail}
	}
	if groups > 1 {
		return nil, ErrConflictingUpdate
	}
	return change, nil
}
