package api

import (
	"context"
	"sort"
	"strconv"

	"planner-api/domain"
)

// memStore is an in-memory stand-in for the table storage with the same
// concurrency contract: writes carry ETags and fail when stale.
type memStore struct {
	tasks    map[string]domain.Task
	backlogs map[string]domain.Backlog
	notes    map[string]domain.Note
	users    map[string]domain.User

	taskGuards    map[string]string
	backlogGuards map[string]string

	seq int
}

func newMemStore() *memStore {
	return &memStore{
		tasks:         map[string]domain.Task{},
		backlogs:      map[string]domain.Backlog{},
		notes:         map[string]domain.Note{},
		users:         map[string]domain.User{},
		taskGuards:    map[string]string{},
		backlogGuards: map[string]string{},
	}
}

func (m *memStore) nextETag() string {
	m.seq++
	return strconv.Itoa(m.seq)
}

func storeKey(userID, id string) string { return userID + "|" + id }

func (m *memStore) GetTask(ctx context.Context, userID, id string) (*domain.Task, error) {
	if t, ok := m.tasks[storeKey(userID, id)]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *memStore) ListTasks(ctx context.Context, userID, start, end string) ([]domain.Task, error) {
	var out []domain.Task
	for k, t := range m.tasks {
		if k != storeKey(userID, t.ID) {
			continue
		}
		if start != "" && end != "" && (t.Date < start || t.Date > end) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (m *memStore) ListTasksForDate(ctx context.Context, userID, date string) ([]domain.Task, error) {
	var out []domain.Task
	for k, t := range m.tasks {
		if k == storeKey(userID, t.ID) && t.Date == date {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *memStore) GetTaskGroup(ctx context.Context, userID, date string) (string, error) {
	return m.taskGuards[storeKey(userID, date)], nil
}

func (m *memStore) ApplyTaskBatch(ctx context.Context, userID string, batch domain.TaskBatch) error {
	for _, g := range batch.Guards {
		if m.taskGuards[storeKey(userID, g.Group)] != g.ETag {
			return domain.ErrConcurrencyConflict
		}
	}
	if batch.Insert != nil {
		if _, ok := m.tasks[storeKey(userID, batch.Insert.ID)]; ok {
			return domain.ErrConcurrencyConflict
		}
	}
	for _, u := range batch.Updates {
		cur, ok := m.tasks[storeKey(userID, u.ID)]
		if !ok || cur.ETag != u.ETag {
			return domain.ErrConcurrencyConflict
		}
	}
	if batch.Delete != nil {
		cur, ok := m.tasks[storeKey(userID, batch.Delete.ID)]
		if !ok || cur.ETag != batch.Delete.ETag {
			return domain.ErrConcurrencyConflict
		}
	}
	if batch.Insert != nil {
		t := *batch.Insert
		t.ETag = m.nextETag()
		m.tasks[storeKey(userID, t.ID)] = t
	}
	for _, u := range batch.Updates {
		u.ETag = m.nextETag()
		m.tasks[storeKey(userID, u.ID)] = u
	}
	if batch.Delete != nil {
		delete(m.tasks, storeKey(userID, batch.Delete.ID))
	}
	for _, g := range batch.Guards {
		m.taskGuards[storeKey(userID, g.Group)] = m.nextETag()
	}
	return nil
}

func (m *memStore) GetBacklog(ctx context.Context, userID, id string) (*domain.Backlog, error) {
	if b, ok := m.backlogs[storeKey(userID, id)]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *memStore) ListBacklogs(ctx context.Context, userID string) ([]domain.Backlog, error) {
	var out []domain.Backlog
	for k, b := range m.backlogs {
		if k == storeKey(userID, b.ID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *memStore) GetBacklogGroup(ctx context.Context, userID string) (string, error) {
	return m.backlogGuards[userID], nil
}

func (m *memStore) ApplyBacklogBatch(ctx context.Context, userID string, batch domain.BacklogBatch) error {
	if batch.Guard != nil && m.backlogGuards[userID] != batch.Guard.ETag {
		return domain.ErrConcurrencyConflict
	}
	if batch.Insert != nil {
		if _, ok := m.backlogs[storeKey(userID, batch.Insert.ID)]; ok {
			return domain.ErrConcurrencyConflict
		}
	}
	for _, u := range batch.Updates {
		cur, ok := m.backlogs[storeKey(userID, u.ID)]
		if !ok || cur.ETag != u.ETag {
			return domain.ErrConcurrencyConflict
		}
	}
	if batch.Delete != nil {
		cur, ok := m.backlogs[storeKey(userID, batch.Delete.ID)]
		if !ok || cur.ETag != batch.Delete.ETag {
			return domain.ErrConcurrencyConflict
		}
	}
	if batch.Insert != nil {
		b := *batch.Insert
		b.ETag = m.nextETag()
		m.backlogs[storeKey(userID, b.ID)] = b
	}
	for _, u := range batch.Updates {
		u.ETag = m.nextETag()
		m.backlogs[storeKey(userID, u.ID)] = u
	}
	if batch.Delete != nil {
		delete(m.backlogs, storeKey(userID, batch.Delete.ID))
	}
	if batch.Guard != nil {
		m.backlogGuards[userID] = m.nextETag()
	}
	return nil
}

func (m *memStore) GetNote(ctx context.Context, userID, date string) (*domain.Note, error) {
	if n, ok := m.notes[storeKey(userID, date)]; ok {
		return &n, nil
	}
	return nil, nil
}

func (m *memStore) InsertNote(ctx context.Context, userID string, note domain.Note) error {
	if _, ok := m.notes[storeKey(userID, note.Date)]; ok {
		return domain.ErrDuplicateNote
	}
	note.ETag = m.nextETag()
	m.notes[storeKey(userID, note.Date)] = note
	return nil
}

func (m *memStore) UpdateNote(ctx context.Context, userID string, note domain.Note) error {
	cur, ok := m.notes[storeKey(userID, note.Date)]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.ETag != note.ETag {
		return domain.ErrConcurrencyConflict
	}
	note.ETag = m.nextETag()
	m.notes[storeKey(userID, note.Date)] = note
	return nil
}

func (m *memStore) ListEmptyNotes(ctx context.Context) ([]domain.EmptyNote, error) {
	var out []domain.EmptyNote
	for k, n := range m.notes {
		if n.Entry == "" {
			out = append(out, domain.EmptyNote{
				UserID: k[:len(k)-len(n.Date)-1],
				Date:   n.Date,
				ETag:   n.ETag,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *memStore) DeleteNoteIfUnchanged(ctx context.Context, userID, date, etag string) error {
	cur, ok := m.notes[storeKey(userID, date)]
	if !ok {
		return nil
	}
	if cur.ETag != etag {
		return domain.ErrConcurrencyConflict
	}
	delete(m.notes, storeKey(userID, date))
	return nil
}

func (m *memStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *memStore) GetUserByCustomer(ctx context.Context, customerID string) (*domain.User, error) {
	for _, u := range m.users {
		if u.StripeCustomerID == customerID {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertUser(ctx context.Context, user domain.User) error {
	if _, ok := m.users[user.ID]; ok {
		return domain.ErrConcurrencyConflict
	}
	user.ETag = m.nextETag()
	m.users[user.ID] = user
	return nil
}

func (m *memStore) UpdateUser(ctx context.Context, user domain.User) error {
	cur, ok := m.users[user.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.ETag != user.ETag {
		return domain.ErrConcurrencyConflict
	}
	user.ETag = m.nextETag()
	m.users[user.ID] = user
	return nil
}
