package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"planner-api/domain"
)

// Storage provides access to the table storage backing the planner. All rows
// for one user share a partition, so every rank shift of a single operation
// commits in one transaction.
type Storage struct {
	taskTable    *aztables.Client
	backlogTable *aztables.Client
	noteTable    *aztables.Client
	userTable    *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, backlogsTable, notesTable, usersTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable:    svc.NewClient(tasksTable),
		backlogTable: svc.NewClient(backlogsTable),
		noteTable:    svc.NewClient(notesTable),
		userTable:    svc.NewClient(usersTable),
	}, nil
}

type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	ETag         string `json:"odata.etag,omitempty"`
}

// Guard rows share the tables with the rows they guard, so a batch can write
// both in one transaction. Their row keys cannot collide with task or backlog
// ids, which are always UUIDs.
const (
	taskGuardPrefix = "day-"
	backlogGuardKey = "order-guard"
)

func taskGuardRowKey(date string) string { return taskGuardPrefix + date }

type taskEntity struct {
	entity
	Date      string `json:"Date"`
	Title     string `json:"Title"`
	Note      string `json:"Note"`
	Completed bool   `json:"Completed"`
	Order     int    `json:"Order"`
}

type backlogEntity struct {
	entity
	Date   string `json:"Date"`
	Detail string `json:"Detail"`
	Order  int    `json:"Order"`
}

// Note rows key on the date, which is what makes a day's note a singleton.
type noteEntity struct {
	entity
	Entry string `json:"Entry"`
}

type userEntity struct {
	entity
	Name                 string `json:"Name"`
	Email                string `json:"Email"`
	StripeCustomerID     string `json:"StripeCustomerId"`
	StripeSubscriptionID string `json:"StripeSubscriptionId"`
	SubscriptionStatus   string `json:"SubscriptionStatus"`
	IsSubscribed         bool   `json:"IsSubscribed"`
}

func taskToEntity(userID string, t domain.Task) taskEntity {
	return taskEntity{
		entity:    entity{PartitionKey: userID, RowKey: t.ID, ETag: t.ETag},
		Date:      t.Date,
		Title:     t.Title,
		Note:      t.Note,
		Completed: t.Completed,
		Order:     t.Order,
	}
}

func taskFromEntity(ent taskEntity) domain.Task {
	return domain.Task{
		ID:        ent.RowKey,
		Date:      ent.Date,
		Title:     ent.Title,
		Note:      ent.Note,
		Completed: ent.Completed,
		Order:     ent.Order,
		ETag:      ent.ETag,
	}
}

func backlogToEntity(userID string, b domain.Backlog) backlogEntity {
	return backlogEntity{
		entity: entity{PartitionKey: userID, RowKey: b.ID, ETag: b.ETag},
		Date:   b.Date,
		Detail: b.Detail,
		Order:  b.Order,
	}
}

func backlogFromEntity(ent backlogEntity) domain.Backlog {
	return domain.Backlog{
		ID:     ent.RowKey,
		Date:   ent.Date,
		Detail: ent.Detail,
		Order:  ent.Order,
		ETag:   ent.ETag,
	}
}

func userToEntity(u domain.User) userEntity {
	return userEntity{
		entity:               entity{PartitionKey: u.ID, RowKey: u.ID, ETag: u.ETag},
		Name:                 u.Name,
		Email:                u.Email,
		StripeCustomerID:     u.StripeCustomerID,
		StripeSubscriptionID: u.StripeSubscriptionID,
		SubscriptionStatus:   u.SubscriptionStatus,
		IsSubscribed:         u.IsSubscribed,
	}
}

func userFromEntity(ent userEntity) domain.User {
	return domain.User{
		ID:                   ent.PartitionKey,
		Name:                 ent.Name,
		Email:                ent.Email,
		StripeCustomerID:     ent.StripeCustomerID,
		StripeSubscriptionID: ent.StripeSubscriptionID,
		SubscriptionStatus:   ent.SubscriptionStatus,
		IsSubscribed:         ent.IsSubscribed,
		ETag:                 ent.ETag,
	}
}

// quote escapes a value for use inside an OData string literal.
func quote(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// mapWriteErr translates optimistic-concurrency failures into the domain
// sentinel. 412 is a stale ETag, 409 a key that appeared underneath an insert.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if isStatus(err, 412) || isStatus(err, 409) {
		return domain.ErrConcurrencyConflict
	}
	return err
}

// mapBatchErr is mapWriteErr for transactions. A 404 on a batch means an
// updated or deleted row vanished underneath the plan, which is a concurrency
// loss like any stale ETag and must engage the caller's retry.
func mapBatchErr(err error) error {
	if isStatus(err, 404) {
		return domain.ErrConcurrencyConflict
	}
	return mapWriteErr(err)
}

// guardAction writes a group's guard row so every rank mutation of the group
// contends on it, even when the mutations' row sets are otherwise disjoint.
// An absent guard is added; an existing one is replaced against the ETag
// observed at planning time.
func guardAction(userID, rowKey, etag string) (aztables.TransactionAction, error) {
	payload, err := json.Marshal(entity{PartitionKey: userID, RowKey: rowKey})
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	if etag == "" {
		return aztables.TransactionAction{
			ActionType: aztables.TransactionTypeAdd,
			Entity:     payload,
		}, nil
	}
	et := azcore.ETag(etag)
	return aztables.TransactionAction{
		ActionType: aztables.TransactionTypeUpdateReplace,
		Entity:     payload,
		IfMatch:    &et,
	}, nil
}

func (s *Storage) groupETag(ctx context.Context, table *aztables.Client, userID, rowKey string) (string, error) {
	resp, err := table.GetEntity(ctx, userID, rowKey, nil)
	if err != nil {
		if isStatus(err, 404) {
			return "", nil
		}
		return "", err
	}
	var ent entity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return "", err
	}
	return ent.ETag, nil
}

func (s *Storage) GetTaskGroup(ctx context.Context, userID, date string) (string, error) {
	return s.groupETag(ctx, s.taskTable, userID, taskGuardRowKey(date))
}

func (s *Storage) GetBacklogGroup(ctx context.Context, userID string) (string, error) {
	return s.groupETag(ctx, s.backlogTable, userID, backlogGuardKey)
}

func (s *Storage) GetTask(ctx context.Context, userID, id string) (*domain.Task, error) {
	if strings.HasPrefix(id, taskGuardPrefix) {
		return nil, nil
	}
	resp, err := s.taskTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	task := taskFromEntity(ent)
	return &task, nil
}

// ListTasks retrieves the user's tasks, optionally bounded to a date range.
// Dates are ISO strings, so the range filter is plain string comparison.
func (s *Storage) ListTasks(ctx context.Context, userID, start, end string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + quote(userID) + "'"
	if start != "" && end != "" {
		filter += " and Date ge '" + quote(start) + "' and Date le '" + quote(end) + "'"
	}
	return s.listTasks(ctx, filter)
}

// ListTasksForDate retrieves one day's group of tasks.
func (s *Storage) ListTasksForDate(ctx context.Context, userID, date string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + quote(userID) + "' and Date eq '" + quote(date) + "'"
	return s.listTasks(ctx, filter)
}

func (s *Storage) listTasks(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			if strings.HasPrefix(ent.RowKey, taskGuardPrefix) {
				continue
			}
			tasks = append(tasks, taskFromEntity(ent))
		}
	}
	return tasks, nil
}

// ApplyTaskBatch commits an insert, rank shifts and a delete as one
// transaction against the user's partition. Any stale ETag fails the whole
// batch with ErrConcurrencyConflict, leaving the group untouched.
func (s *Storage) ApplyTaskBatch(ctx context.Context, userID string, batch domain.TaskBatch) error {
	var actions []aztables.TransactionAction
	for _, g := range batch.Guards {
		action, err := guardAction(userID, taskGuardRowKey(g.Group), g.ETag)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	if batch.Insert != nil {
		payload, err := json.Marshal(taskToEntity(userID, *batch.Insert))
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeAdd,
			Entity:     payload,
		})
	}
	for _, u := range batch.Updates {
		payload, err := json.Marshal(taskToEntity(userID, u))
		if err != nil {
			return err
		}
		et := azcore.ETag(u.ETag)
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateReplace,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	if batch.Delete != nil {
		payload, err := json.Marshal(taskToEntity(userID, *batch.Delete))
		if err != nil {
			return err
		}
		et := azcore.ETag(batch.Delete.ETag)
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeDelete,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	if len(actions) == 0 {
		return nil
	}
	_, err := s.taskTable.SubmitTransaction(ctx, actions, nil)
	return mapBatchErr(err)
}

func (s *Storage) GetBacklog(ctx context.Context, userID, id string) (*domain.Backlog, error) {
	if id == backlogGuardKey {
		return nil, nil
	}
	resp, err := s.backlogTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var ent backlogEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	item := backlogFromEntity(ent)
	return &item, nil
}

func (s *Storage) ListBacklogs(ctx context.Context, userID string) ([]domain.Backlog, error) {
	filter := "PartitionKey eq '" + quote(userID) + "'"
	pager := s.backlogTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.Backlog{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent backlogEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			if ent.RowKey == backlogGuardKey {
				continue
			}
			items = append(items, backlogFromEntity(ent))
		}
	}
	return items, nil
}

func (s *Storage) ApplyBacklogBatch(ctx context.Context, userID string, batch domain.BacklogBatch) error {
	var actions []aztables.TransactionAction
	if batch.Guard != nil {
		action, err := guardAction(userID, backlogGuardKey, batch.Guard.ETag)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	if batch.Insert != nil {
		payload, err := json.Marshal(backlogToEntity(userID, *batch.Insert))
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeAdd,
			Entity:     payload,
		})
	}
	for _, u := range batch.Updates {
		payload, err := json.Marshal(backlogToEntity(userID, u))
		if err != nil {
			return err
		}
		et := azcore.ETag(u.ETag)
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateReplace,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	if batch.Delete != nil {
		payload, err := json.Marshal(backlogToEntity(userID, *batch.Delete))
		if err != nil {
			return err
		}
		et := azcore.ETag(batch.Delete.ETag)
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeDelete,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	if len(actions) == 0 {
		return nil
	}
	_, err := s.backlogTable.SubmitTransaction(ctx, actions, nil)
	return mapBatchErr(err)
}

func (s *Storage) GetNote(ctx context.Context, userID, date string) (*domain.Note, error) {
	resp, err := s.noteTable.GetEntity(ctx, userID, date, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var ent noteEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &domain.Note{Date: ent.RowKey, Entry: ent.Entry, ETag: ent.ETag}, nil
}

// InsertNote adds the note row keyed by date. The key collision on a second
// insert for the same day is what enforces the one-note-per-day rule.
func (s *Storage) InsertNote(ctx context.Context, userID string, note domain.Note) error {
	payload, err := json.Marshal(noteEntity{
		entity: entity{PartitionKey: userID, RowKey: note.Date},
		Entry:  note.Entry,
	})
	if err != nil {
		return err
	}
	_, err = s.noteTable.AddEntity(ctx, payload, nil)
	if isStatus(err, 409) {
		return domain.ErrDuplicateNote
	}
	return err
}

func (s *Storage) UpdateNote(ctx context.Context, userID string, note domain.Note) error {
	payload, err := json.Marshal(noteEntity{
		entity: entity{PartitionKey: userID, RowKey: note.Date},
		Entry:  note.Entry,
	})
	if err != nil {
		return err
	}
	et := azcore.ETag(note.ETag)
	_, err = s.noteTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &et,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if isStatus(err, 404) {
		return domain.ErrNotFound
	}
	return mapWriteErr(err)
}

// ListEmptyNotes scans all partitions for notes whose entry is still blank.
func (s *Storage) ListEmptyNotes(ctx context.Context) ([]domain.EmptyNote, error) {
	filter := "Entry eq ''"
	pager := s.noteTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	notes := []domain.EmptyNote{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent noteEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			notes = append(notes, domain.EmptyNote{
				UserID: ent.PartitionKey,
				Date:   ent.RowKey,
				ETag:   ent.ETag,
			})
		}
	}
	return notes, nil
}

// DeleteNoteIfUnchanged removes the note only while its ETag still matches.
// A note deleted by someone else already satisfies the caller.
func (s *Storage) DeleteNoteIfUnchanged(ctx context.Context, userID, date, etag string) error {
	et := azcore.ETag(etag)
	_, err := s.noteTable.DeleteEntity(ctx, userID, date, &aztables.DeleteEntityOptions{IfMatch: &et})
	if isStatus(err, 404) {
		return nil
	}
	return mapWriteErr(err)
}

func (s *Storage) GetUser(ctx context.Context, id string) (*domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, id, id, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var ent userEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	user := userFromEntity(ent)
	return &user, nil
}

func (s *Storage) GetUserByCustomer(ctx context.Context, customerID string) (*domain.User, error) {
	filter := "StripeCustomerId eq '" + quote(customerID) + "'"
	pager := s.userTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent userEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			user := userFromEntity(ent)
			return &user, nil
		}
	}
	return nil, nil
}

func (s *Storage) InsertUser(ctx context.Context, user domain.User) error {
	payload, err := json.Marshal(userToEntity(user))
	if err != nil {
		return err
	}
	_, err = s.userTable.AddEntity(ctx, payload, nil)
	return mapWriteErr(err)
}

func (s *Storage) UpdateUser(ctx context.Context, user domain.User) error {
	payload, err := json.Marshal(userToEntity(user))
	if err != nil {
		return err
	}
	et := azcore.ETag(user.ETag)
	_, err = s.userTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &et,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if isStatus(err, 404) {
		return domain.ErrNotFound
	}
	return mapWriteErr(err)
}
