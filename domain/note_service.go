package domain

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// NoteStore is the persistence surface the note service needs. InsertNote
// must fail with ErrDuplicateNote when a note already exists for the date,
// and DeleteNoteIfUnchanged must fail with ErrConcurrencyConflict when the
// note changed since etag was read.
type NoteStore interface {
	GetNote(ctx context.Context, userID, date string) (*Note, error)
	InsertNote(ctx context.Context, userID string, note Note) error
	UpdateNote(ctx context.Context, userID string, note Note) error
	ListEmptyNotes(ctx context.Context) ([]EmptyNote, error)
	DeleteNoteIfUnchanged(ctx context.Context, userID, date, etag string) error
}

// NoteService owns the per-(owner, date) singleton notes.
type NoteService struct {
	store NoteStore
}

func NewNoteService(store NoteStore) NoteService { return NoteService{store: store} }

// GetOrCreate returns the note for the date, creating an empty one when none
// exists yet. Losing a create race to a concurrent request falls back to the
// winner's note.
func (s NoteService) GetOrCreate(ctx context.Context, userID, date string) (*Note, error) {
	note, err := s.store.GetNote(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if note != nil {
		return note, nil
	}
	fresh := Note{Date: date, Entry: ""}
	err = s.store.InsertNote(ctx, userID, fresh)
	if errors.Is(err, ErrDuplicateNote) {
		return s.store.GetNote(ctx, userID, date)
	}
	if err != nil {
		return nil, err
	}
	return &fresh, nil
}

// Create inserts a note for the date, failing when one already exists.
func (s NoteService) Create(ctx context.Context, userID string, note Note) (*Note, error) {
	if err := s.store.InsertNote(ctx, userID, note); err != nil {
		return nil, err
	}
	return &note, nil
}

// Update replaces the note's entry text.
func (s NoteService) Update(ctx context.Context, userID, date, entry string) (*Note, error) {
	for attempt := 0; ; attempt++ {
		note, err := s.store.GetNote(ctx, userID, date)
		if err != nil {
			return nil, err
		}
		if note == nil {
			return nil, ErrNotFound
		}
		note.Entry = entry
		err = s.store.UpdateNote(ctx, userID, *note)
		if retryConflict(err, attempt, userID, "note update") {
			continue
		}
		if err != nil {
			return nil, err
		}
		return note, nil
	}
}

// Clear empties the note's entry. Clearing an already-empty note succeeds.
func (s NoteService) Clear(ctx context.Context, userID, date string) (*Note, error) {
	return s.Update(ctx, userID, date, "")
}

// PurgeEmpty deletes every note whose entry is still empty at delete time and
// returns how many were removed. A note written between the scan and the
// delete keeps its new entry; the stale delete is skipped. Safe to call
// repeatedly and concurrently with note creation.
func (s NoteService) PurgeEmpty(ctx context.Context) (int, error) {
	empty, err := s.store.ListEmptyNotes(ctx)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, n := range empty {
		err := s.store.DeleteNoteIfUnchanged(ctx, n.UserID, n.Date, n.ETag)
		if errors.Is(err, ErrConcurrencyConflict) {
			log.WithFields(log.Fields{"user": n.UserID, "date": n.Date}).
				Debug("note gained an entry during purge, skipping")
			continue
		}
		if err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
