package domain

import (
	"context"
	"sort"
	"strconv"
	"testing"
)

// fakeStore is an in-memory implementation of the store interfaces with the
// same concurrency contract as the real table storage: writes carry ETags
// from the read and fail with ErrConcurrencyConflict when stale.
type fakeStore struct {
	tasks    map[string]Task    // key userID|id
	backlogs map[string]Backlog // key userID|id
	notes    map[string]Note    // key userID|date
	users    map[string]User    // key userID

	// taskGuards and backlogGuards mirror the guard rows: one version tag
	// per (user, day) and per user's backlog, bumped on every rank mutation.
	taskGuards    map[string]string // key userID|date
	backlogGuards map[string]string // key userID

	seq int

	// conflictNext forces the next N batch applies to fail as if a
	// concurrent writer won the race.
	conflictNext int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:         map[string]Task{},
		backlogs:      map[string]Backlog{},
		notes:         map[string]Note{},
		users:         map[string]User{},
		taskGuards:    map[string]string{},
		backlogGuards: map[string]string{},
	}
}

func (f *fakeStore) nextETag() string {
	f.seq++
	return strconv.Itoa(f.seq)
}

func key(userID, id string) string { return userID + "|" + id }

func (f *fakeStore) GetTask(ctx context.Context, userID, id string) (*Task, error) {
	if t, ok := f.tasks[key(userID, id)]; ok {
		return &t, nil
	}
	return nil, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, userID, start, end string) ([]Task, error) {
	var out []Task
	for k, t := range f.tasks {
		if k != key(userID, t.ID) {
			continue
		}
		if start != "" && end != "" && (t.Date < start || t.Date > end) {
			continue
		}
		out = append(out, t)
	}
	sortTasks(out)
	return out, nil
}

func (f *fakeStore) ListTasksForDate(ctx context.Context, userID, date string) ([]Task, error) {
	var out []Task
	for k, t := range f.tasks {
		if k == key(userID, t.ID) && t.Date == date {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (f *fakeStore) GetTaskGroup(ctx context.Context, userID, date string) (string, error) {
	return f.taskGuards[key(userID, date)], nil
}

func (f *fakeStore) ApplyTaskBatch(ctx context.Context, userID string, batch TaskBatch) error {
	if f.conflictNext > 0 {
		f.conflictNext--
		return ErrConcurrencyConflict
	}
	for _, g := range batch.Guards {
		if f.taskGuards[key(userID, g.Group)] != g.ETag {
			return ErrConcurrencyConflict
		}
	}
	if batch.Insert != nil {
		if _, ok := f.tasks[key(userID, batch.Insert.ID)]; ok {
			return ErrConcurrencyConflict
		}
	}
	for _, u := range batch.Updates {
		cur, ok := f.tasks[key(userID, u.ID)]
		if !ok || cur.ETag != u.ETag {
			return ErrConcurrencyConflict
		}
	}
	if batch.Delete != nil {
		cur, ok := f.tasks[key(userID, batch.Delete.ID)]
		if !ok || cur.ETag != batch.Delete.ETag {
			return ErrConcurrencyConflict
		}
	}
	if batch.Insert != nil {
		t := *batch.Insert
		t.ETag = f.nextETag()
		f.tasks[key(userID, t.ID)] = t
	}
	for _, u := range batch.Updates {
		u.ETag = f.nextETag()
		f.tasks[key(userID, u.ID)] = u
	}
	if batch.Delete != nil {
		delete(f.tasks, key(userID, batch.Delete.ID))
	}
	for _, g := range batch.Guards {
		f.taskGuards[key(userID, g.Group)] = f.nextETag()
	}
	return nil
}

func (f *fakeStore) GetBacklog(ctx context.Context, userID, id string) (*Backlog, error) {
	if b, ok := f.backlogs[key(userID, id)]; ok {
		return &b, nil
	}
	return nil, nil
}

func (f *fakeStore) ListBacklogs(ctx context.Context, userID string) ([]Backlog, error) {
	var out []Backlog
	for k, b := range f.backlogs {
		if k == key(userID, b.ID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) GetBacklogGroup(ctx context.Context, userID string) (string, error) {
	return f.backlogGuards[userID], nil
}

func (f *fakeStore) ApplyBacklogBatch(ctx context.Context, userID string, batch BacklogBatch) error {
	if f.conflictNext > 0 {
		f.conflictNext--
		return ErrConcurrencyConflict
	}
	if batch.Guard != nil && f.backlogGuards[userID] != batch.Guard.ETag {
		return ErrConcurrencyConflict
	}
	if batch.Insert != nil {
		if _, ok := f.backlogs[key(userID, batch.Insert.ID)]; ok {
			return ErrConcurrencyConflict
		}
	}
	for _, u := range batch.Updates {
		cur, ok := f.backlogs[key(userID, u.ID)]
		if !ok || cur.ETag != u.ETag {
			return ErrConcurrencyConflict
		}
	}
	if batch.Delete != nil {
		cur, ok := f.backlogs[key(userID, batch.Delete.ID)]
		if !ok || cur.ETag != batch.Delete.ETag {
			return ErrConcurrencyConflict
		}
	}
	if batch.Insert != nil {
		b := *batch.Insert
		b.ETag = f.nextETag()
		f.backlogs[key(userID, b.ID)] = b
	}
	for _, u := range batch.Updates {
		u.ETag = f.nextETag()
		f.backlogs[key(userID, u.ID)] = u
	}
	if batch.Delete != nil {
		delete(f.backlogs, key(userID, batch.Delete.ID))
	}
	if batch.Guard != nil {
		f.backlogGuards[userID] = f.nextETag()
	}
	return nil
}

func (f *fakeStore) GetNote(ctx context.Context, userID, date string) (*Note, error) {
	if n, ok := f.notes[key(userID, date)]; ok {
		return &n, nil
	}
	return nil, nil
}

func (f *fakeStore) InsertNote(ctx context.Context, userID string, note Note) error {
	if _, ok := f.notes[key(userID, note.Date)]; ok {
		return ErrDuplicateNote
	}
	note.ETag = f.nextETag()
	f.notes[key(userID, note.Date)] = note
	return nil
}

func (f *fakeStore) UpdateNote(ctx context.Context, userID string, note Note) error {
	cur, ok := f.notes[key(userID, note.Date)]
	if !ok {
		return ErrNotFound
	}
	if cur.ETag != note.ETag {
		return ErrConcurrencyConflict
	}
	note.ETag = f.nextETag()
	f.notes[key(userID, note.Date)] = note
	return nil
}

func (f *fakeStore) ListEmptyNotes(ctx context.Context) ([]EmptyNote, error) {
	var out []EmptyNote
	for k, n := range f.notes {
		if n.Entry == "" {
			out = append(out, EmptyNote{UserID: k[:len(k)-len(n.Date)-1], Date: n.Date, ETag: n.ETag})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (f *fakeStore) DeleteNoteIfUnchanged(ctx context.Context, userID, date, etag string) error {
	cur, ok := f.notes[key(userID, date)]
	if !ok {
		return nil
	}
	if cur.ETag != etag {
		return ErrConcurrencyConflict
	}
	delete(f.notes, key(userID, date))
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*User, error) {
	if u, ok := f.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (f *fakeStore) GetUserByCustomer(ctx context.Context, customerID string) (*User, error) {
	for _, u := range f.users {
		if u.StripeCustomerID == customerID {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertUser(ctx context.Context, user User) error {
	if _, ok := f.users[user.ID]; ok {
		return ErrConcurrencyConflict
	}
	user.ETag = f.nextETag()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, user User) error {
	cur, ok := f.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.ETag != user.ETag {
		return ErrConcurrencyConflict
	}
	user.ETag = f.nextETag()
	f.users[user.ID] = user
	return nil
}

func sortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Date != tasks[j].Date {
			return tasks[i].Date < tasks[j].Date
		}
		return tasks[i].Order < tasks[j].Order
	})
}

// dayRanks returns title -> order for one user's day and checks density.
func dayRanks(t *testing.T, f *fakeStore, userID, date string) map[string]int {
	t.Helper()
	tasks, _ := f.ListTasksForDate(context.Background(), userID, date)
	ranks := map[string]int{}
	orders := map[string]int{}
	for _, task := range tasks {
		ranks[task.Title] = task.Order
		orders[task.ID] = task.Order
	}
	assertDense(t, orders)
	return ranks
}
