// Package ledger assigns version numbers. Numbers are dense per
// document, start at 1, and are never reused; concurrent uploads for
// the same document are serialized so each observes the latest maximum.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ni2-vsv11/DocTrack/internal/store"
	"github.com/ni2-vsv11/DocTrack/internal/util"
)

// maxAttempts bounds the retry loop for conflicts raised by writers
// outside this process, for example a second API replica.
const maxAttempts = 3

// ErrAllocationExhausted is returned when every attempt lost the race
// for a version number.
var ErrAllocationExhausted = errors.New("version allocation attempts exhausted")

// VersionStore is the slice of the store the allocator needs.
type VersionStore interface {
	MaxVersionNumber(ctx context.Context, documentID string) (int, error)
	InsertVersion(ctx context.Context, item store.Version, act store.Activity) error
}

// Draft describes an upload before a number is assigned. FileSize is
// the content length of the uploaded payload and is recorded on the
// version row as-is.
type Draft struct {
	DocumentID     string
	ObjectKey      string
	FileSize       int64
	ChangeSummary  string
	ExtractedText  *string
	UploadedBy     string
	UploadedByName string
}

type Allocator struct {
	store VersionStore
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAllocator(s VersionStore) *Allocator {
	return &Allocator{
		store: s,
		now:   time.Now,
		locks: map[string]*sync.Mutex{},
	}
}

// Allocate reads the document's current maximum, assigns max+1, and
// inserts the version together with its activity event. The activity's
// TargetID is set to the new version's ID before insert.
func (a *Allocator) Allocate(ctx context.Context, draft Draft, act store.Activity) (store.Version, error) {
	lock := a.lockFor(draft.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		max, err := a.store.MaxVersionNumber(ctx, draft.DocumentID)
		if err != nil {
			return store.Version{}, fmt.Errorf("read max version: %w", err)
		}

		now := a.now().UTC()
		item := store.Version{
			ID:             util.NewID("ver"),
			DocumentID:     draft.DocumentID,
			VersionNumber:  max + 1,
			ObjectKey:      draft.ObjectKey,
			FileSize:       draft.FileSize,
			ChangeSummary:  draft.ChangeSummary,
			ExtractedText:  draft.ExtractedText,
			UploadedBy:     draft.UploadedBy,
			UploadedByName: draft.UploadedByName,
			CreatedAt:      now,
		}
		act.TargetID = item.ID
		act.CreatedAt = now

		err = a.store.InsertVersion(ctx, item, act)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return store.Version{}, fmt.Errorf("insert version: %w", err)
		}
		lastErr = err
	}
	return store.Version{}, fmt.Errorf("%w after %d attempts: %v", ErrAllocationExhausted, maxAttempts, lastErr)
}

func (a *Allocator) lockFor(documentID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[documentID] = lock
	}
	return lock
}
