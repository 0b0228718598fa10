package domain

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// BacklogStore is the persistence surface the backlog service needs.
// ApplyBacklogBatch has the same atomicity contract as ApplyTaskBatch.
type BacklogStore interface {
	GetBacklog(ctx context.Context, userID, id string) (*Backlog, error)
	ListBacklogs(ctx context.Context, userID string) ([]Backlog, error)
	// GetBacklogGroup returns the version tag of the user's backlog guard
	// row, or "" when no rank mutation has touched the list yet.
	GetBacklogGroup(ctx context.Context, userID string) (string, error)
	ApplyBacklogBatch(ctx context.Context, userID string, batch BacklogBatch) error
}

// BacklogBatch describes one atomic backlog mutation. The backlog forms a
// single group per user, so its guard carries no group name.
type BacklogBatch struct {
	Guard   *GroupGuard
	Insert  *Backlog
	Updates []Backlog
	Delete  *Backlog
}

func (b BacklogBatch) empty() bool {
	return b.Insert == nil && b.Delete == nil && len(b.Updates) == 0
}

// BacklogService owns the single ordered backlog list each user has.
type BacklogService struct {
	store BacklogStore
	now   func() time.Time
}

func NewBacklogService(store BacklogStore) BacklogService {
	return BacklogService{store: store, now: time.Now}
}

// List returns the user's backlog items in position order.
func (s BacklogService) List(ctx context.Context, userID string) ([]Backlog, error) {
	items, err := s.store.ListBacklogs(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	return items, nil
}

// Create inserts a new backlog item at the front of the list.
func (s BacklogService) Create(ctx context.Context, userID, detail string) (*Backlog, error) {
	item := Backlog{
		ID:     uuid.NewString(),
		Date:   s.today(),
		Detail: detail,
		Order:  1,
	}
	for attempt := 0; ; attempt++ {
		// Guard before members, so a write landing in between fails the batch.
		guard, err := s.store.GetBacklogGroup(ctx, userID)
		if err != nil {
			return nil, err
		}
		items, err := s.store.ListBacklogs(ctx, userID)
		if err != nil {
			return nil, err
		}
		batch := BacklogBatch{
			Guard:   &GroupGuard{ETag: guard},
			Insert:  &item,
			Updates: applyBacklogShifts(items, frontInsertShifts(backlogMembers(items))),
		}
		err = s.store.ApplyBacklogBatch(ctx, userID, batch)
		if retryConflict(err, attempt, userID, "backlog create") {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &item, nil
	}
}

// Update applies exactly one update group: a reorder, or a detail rewrite
// that also stamps the last-touched date.
func (s BacklogService) Update(ctx context.Context, userID, id string, patch BacklogPatch) (*Backlog, error) {
	change, err := patch.Change()
	if err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		item, err := s.store.GetBacklog(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, ErrNotFound
		}
		if change == nil {
			return item, nil
		}
		batch, err := s.planUpdate(ctx, userID, item, change)
		if err != nil {
			return nil, err
		}
		if batch.empty() {
			return item, nil
		}
		err = s.store.ApplyBacklogBatch(ctx, userID, batch)
		if retryConflict(err, attempt, userID, "backlog update") {
			continue
		}
		if err != nil {
			return nil, err
		}
		return item, nil
	}
}

func (s BacklogService) planUpdate(ctx context.Context, userID string, item *Backlog, change BacklogChange) (BacklogBatch, error) {
	switch ch := change.(type) {
	case ChangeOrder:
		guard, err := s.store.GetBacklogGroup(ctx, userID)
		if err != nil {
			return BacklogBatch{}, err
		}
		others, err := s.others(ctx, userID, item.ID)
		if err != nil {
			return BacklogBatch{}, err
		}
		target, shifts, err := planMove(backlogMembers(others), item.Order, ch.Order)
		if err != nil {
			return BacklogBatch{}, err
		}
		if target == item.Order {
			return BacklogBatch{}, nil
		}
		item.Order = target
		return BacklogBatch{
			Guard:   &GroupGuard{ETag: guard},
			Updates: append(applyBacklogShifts(others, shifts), *item),
		}, nil

	case ChangeDetail:
		item.Detail = ch.Detail
		item.Date = s.today()
		return BacklogBatch{Updates: []Backlog{*item}}, nil
	}
	return BacklogBatch{}, nil
}

// Delete removes the item and compacts the remaining list.
func (s BacklogService) Delete(ctx context.Context, userID, id string) error {
	for attempt := 0; ; attempt++ {
		item, err := s.store.GetBacklog(ctx, userID, id)
		if err != nil {
			return err
		}
		if item == nil {
			return ErrNotFound
		}
		guard, err := s.store.GetBacklogGroup(ctx, userID)
		if err != nil {
			return err
		}
		remaining, err := s.others(ctx, userID, item.ID)
		if err != nil {
			return err
		}
		batch := BacklogBatch{
			Guard:   &GroupGuard{ETag: guard},
			Delete:  item,
			Updates: applyBacklogShifts(remaining, compactShifts(backlogMembers(remaining), item.Order)),
		}
		err = s.store.ApplyBacklogBatch(ctx, userID, batch)
		if retryConflict(err, attempt, userID, "backlog delete") {
			continue
		}
		return err
	}
}

func (s BacklogService) others(ctx context.Context, userID, excludeID string) ([]Backlog, error) {
	items, err := s.store.ListBacklogs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, b := range items {
		if b.ID != excludeID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s BacklogService) today() string {
	return s.now().UTC().Format("2006-01-02")
}

func backlogMembers(items []Backlog) []member {
	ms := make([]member, len(items))
	for i, b := range items {
		ms[i] = member{ID: b.ID, Rank: b.Order}
	}
	return ms
}

func applyBacklogShifts(items []Backlog, shifts []member) []Backlog {
	out := make([]Backlog, 0, len(shifts))
	for _, sh := range shifts {
		for _, b := range items {
			if b.ID == sh.ID {
				b.Order = sh.Rank
				out = append(out, b)
				break
			}
		}
	}
	return out
}
