package domain

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// maxBatchRetries bounds how often a service re-reads and re-plans a group
// mutation after losing an optimistic-concurrency race.
const maxBatchRetries = 5

// TaskStore is the persistence surface the task service needs. ApplyTaskBatch
// must commit the whole batch atomically or not at all, and must fail with
// ErrConcurrencyConflict when any touched entity (guard rows included) changed
// since it was read.
type TaskStore interface {
	GetTask(ctx context.Context, userID, id string) (*Task, error)
	ListTasks(ctx context.Context, userID, start, end string) ([]Task, error)
	ListTasksForDate(ctx context.Context, userID, date string) ([]Task, error)
	// GetTaskGroup returns the version tag of a day's guard row, or "" when
	// no rank mutation has touched the day yet.
	GetTaskGroup(ctx context.Context, userID, date string) (string, error)
	ApplyTaskBatch(ctx context.Context, userID string, batch TaskBatch) error
}

// GroupGuard pins the version of one ordering group as observed while a
// mutation was planned. Every rank-changing batch writes its group's guard
// row, so two plans built from the same snapshot cannot both commit even when
// their row sets are disjoint (two creates into an empty day, for instance).
type GroupGuard struct {
	Group string
	// ETag is "" when the guard row did not exist at read time.
	ETag string
}

// TaskBatch describes one atomic group mutation.
type TaskBatch struct {
	Guards  []GroupGuard
	Insert  *Task
	Updates []Task
	Delete  *Task
}

func (b TaskBatch) empty() bool {
	return b.Insert == nil && b.Delete == nil && len(b.Updates) == 0
}

// TaskService owns task CRUD and the ordering of tasks within each day.
type TaskService struct {
	store TaskStore
}

func NewTaskService(store TaskStore) TaskService { return TaskService{store: store} }

// List returns the user's tasks, optionally restricted to [start, end],
// ordered by date and position.
func (s TaskService) List(ctx context.Context, userID, start, end string) ([]Task, error) {
	tasks, err := s.store.ListTasks(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Date != tasks[j].Date {
			return tasks[i].Date < tasks[j].Date
		}
		return tasks[i].Order < tasks[j].Order
	})
	return tasks, nil
}

// Create inserts a new task at the front of its day, pushing every existing
// task of that day down one slot.
func (s TaskService) Create(ctx context.Context, userID string, task Task) (*Task, error) {
	task.ID = uuid.NewString()
	task.Order = 1
	for attempt := 0; ; attempt++ {
		// The guard is read before the members; a write landing in between
		// bumps the guard and fails the batch instead of racing it.
		guard, err := s.store.GetTaskGroup(ctx, userID, task.Date)
		if err != nil {
			return nil, err
		}
		day, err := s.store.ListTasksForDate(ctx, userID, task.Date)
		if err != nil {
			return nil, err
		}
		batch := TaskBatch{
			Guards:  []GroupGuard{{Group: task.Date, ETag: guard}},
			Insert:  &task,
			Updates: applyTaskShifts(day, frontInsertShifts(taskMembers(day))),
		}
		err = s.store.ApplyTaskBatch(ctx, userID, batch)
		if retryConflict(err, attempt, userID, "task create") {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &task, nil
	}
}

// Update applies exactly one update group to the task. Reorders, date moves
// and completion toggles recompute the affected day's positions inside the
// same storage transaction.
func (s TaskService) Update(ctx context.Context, userID, id string, patch TaskPatch) (*Task, error) {
	change, err := patch.Change()
	if err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		task, err := s.store.GetTask(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, ErrNotFound
		}
		if change == nil {
			return task, nil
		}
		batch, err := s.planUpdate(ctx, userID, task, change)
		if err != nil {
			return nil, err
		}
		if batch.empty() {
			return task, nil
		}
		err = s.store.ApplyTaskBatch(ctx, userID, batch)
		if retryConflict(err, attempt, userID, "task update") {
			continue
		}
		if err != nil {
			return nil, err
		}
		return task, nil
	}
}

// planUpdate mutates task to its post-update state and returns the batch that
// persists it together with every displaced neighbour.
func (s TaskService) planUpdate(ctx context.Context, userID string, task *Task, change TaskChange) (TaskBatch, error) {
	switch ch := change.(type) {
	case ChangeDate:
		if ch.Date == task.Date {
			return TaskBatch{}, nil
		}
		oldDate := task.Date
		oldGuard, err := s.store.GetTaskGroup(ctx, userID, oldDate)
		if err != nil {
			return TaskBatch{}, err
		}
		oldDay, err := s.others(ctx, userID, oldDate, task.ID)
		if err != nil {
			return TaskBatch{}, err
		}
		newGuard, err := s.store.GetTaskGroup(ctx, userID, ch.Date)
		if err != nil {
			return TaskBatch{}, err
		}
		newDay, err := s.others(ctx, userID, ch.Date, task.ID)
		if err != nil {
			return TaskBatch{}, err
		}
		updates := applyTaskShifts(oldDay, renumber(taskMembers(oldDay)))
		updates = append(updates, applyTaskShifts(newDay, frontInsertShifts(taskMembers(newDay)))...)
		task.Date = ch.Date
		task.Order = 1
		return TaskBatch{
			Guards: []GroupGuard{
				{Group: oldDate, ETag: oldGuard},
				{Group: ch.Date, ETag: newGuard},
			},
			Updates: append(updates, *task),
		}, nil

	case ChangeOrder:
		guard, err := s.store.GetTaskGroup(ctx, userID, task.Date)
		if err != nil {
			return TaskBatch{}, err
		}
		others, err := s.others(ctx, userID, task.Date, task.ID)
		if err != nil {
			return TaskBatch{}, err
		}
		target, shifts, err := planMove(taskMembers(others), task.Order, ch.Order)
		if err != nil {
			return TaskBatch{}, err
		}
		if target == task.Order {
			return TaskBatch{}, nil
		}
		task.Order = target
		return TaskBatch{
			Guards:  []GroupGuard{{Group: task.Date, ETag: guard}},
			Updates: append(applyTaskShifts(others, shifts), *task),
		}, nil

	case ChangeText:
		if ch.Title != nil {
			task.Title = *ch.Title
		}
		if ch.Note != nil {
			task.Note = *ch.Note
		}
		return TaskBatch{Updates: []Task{*task}}, nil

	case ChangeCompleted:
		guard, err := s.store.GetTaskGroup(ctx, userID, task.Date)
		if err != nil {
			return TaskBatch{}, err
		}
		others, err := s.others(ctx, userID, task.Date, task.ID)
		if err != nil {
			return TaskBatch{}, err
		}
		// Completed tasks sink to the last slot, reactivated ones jump to the
		// front. Both are plain moves so the day stays densely ranked.
		target := 1
		if ch.Completed {
			target = len(others) + 1
		}
		target, shifts, err := planMove(taskMembers(others), task.Order, target)
		if err != nil {
			return TaskBatch{}, err
		}
		task.Completed = ch.Completed
		task.Order = target
		return TaskBatch{
			Guards:  []GroupGuard{{Group: task.Date, ETag: guard}},
			Updates: append(applyTaskShifts(others, shifts), *task),
		}, nil
	}
	return TaskBatch{}, nil
}

// Delete removes the task and compacts the remaining day so its positions
// stay dense.
func (s TaskService) Delete(ctx context.Context, userID, id string) error {
	for attempt := 0; ; attempt++ {
		task, err := s.store.GetTask(ctx, userID, id)
		if err != nil {
			return err
		}
		if task == nil {
			return ErrNotFound
		}
		guard, err := s.store.GetTaskGroup(ctx, userID, task.Date)
		if err != nil {
			return err
		}
		remaining, err := s.others(ctx, userID, task.Date, task.ID)
		if err != nil {
			return err
		}
		batch := TaskBatch{
			Guards:  []GroupGuard{{Group: task.Date, ETag: guard}},
			Delete:  task,
			Updates: applyTaskShifts(remaining, compactShifts(taskMembers(remaining), task.Order)),
		}
		err = s.store.ApplyTaskBatch(ctx, userID, batch)
		if retryConflict(err, attempt, userID, "task delete") {
			continue
		}
		return err
	}
}

// Completion reports per-day completed/total counts for tasks in [start, end].
func (s TaskService) Completion(ctx context.Context, userID, start, end string) ([]Completion, error) {
	tasks, err := s.store.ListTasks(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	byDate := map[string]*Completion{}
	for _, t := range tasks {
		c := byDate[t.Date]
		if c == nil {
			c = &Completion{Date: t.Date}
			byDate[t.Date] = c
		}
		c.Total++
		if t.Completed {
			c.Completed++
		}
	}
	out := make([]Completion, 0, len(byDate))
	for _, c := range byDate {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// retryConflict reports whether the caller should re-read and re-plan after
// an optimistic-concurrency loss.
func retryConflict(err error, attempt int, userID, op string) bool {
	if !errors.Is(err, ErrConcurrencyConflict) || attempt >= maxBatchRetries {
		return false
	}
	log.WithFields(log.Fields{"user": userID, "op": op, "attempt": attempt + 1}).
		Warn("lost a concurrent write race, retrying")
	return true
}

func (s TaskService) others(ctx context.Context, userID, date, excludeID string) ([]Task, error) {
	day, err := s.store.ListTasksForDate(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	out := day[:0]
	for _, t := range day {
		if t.ID != excludeID {
			out = append(out, t)
		}
	}
	return out, nil
}

func taskMembers(tasks []Task) []member {
	ms := make([]member, len(tasks))
	for i, t := range tasks {
		ms[i] = member{ID: t.ID, Rank: t.Order}
	}
	return ms
}

// applyTaskShifts copies the tasks named by shifts with their new positions.
func applyTaskShifts(tasks []Task, shifts []member) []Task {
	out := make([]Task, 0, len(shifts))
	for _, sh := range shifts {
		for _, t := range tasks {
			if t.ID == sh.ID {
				t.Order = sh.Rank
				out = append(out, t)
				break
			}
		}
	}
	return out
}
