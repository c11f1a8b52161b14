package livemark

import "fmt"

// NoPlaceholder marks a record without a loading placeholder child.
const NoPlaceholder int64 = -1

// Record is the in-memory state of one livemark folder. Everything but
// FolderID is owned by the Service and read or written under its mutex.
type Record struct {
	cancel        func()
	session       *loadSession
	FeedURI       string
	FolderID      int64
	placeholderID int64
	locked        bool
}

// Registry is the ordered set of tracked livemarks. It is not safe for
// concurrent use; the Service serializes access.
type Registry struct {
	records []*Record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends an unlocked record and returns its position.
func (r *Registry) Add(folderID int64, feedURI string) (int, error) {
	if r.index(folderID) >= 0 {
		return 0, fmt.Errorf("folder %d: %w", folderID, ErrDuplicateLivemark)
	}

	r.records = append(r.records, &Record{
		FeedURI:       feedURI,
		FolderID:      folderID,
		placeholderID: NoPlaceholder,
	})

	return len(r.records) - 1, nil
}

// Find returns the record for folderID.
func (r *Registry) Find(folderID int64) (*Record, error) {
	idx := r.index(folderID)
	if idx < 0 {
		return nil, fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}

	return r.records[idx], nil
}

// Remove drops the record for folderID, cancelling its in-flight load first.
// It returns nil when the folder was not tracked.
func (r *Registry) Remove(folderID int64) *Record {
	idx := r.index(folderID)
	if idx < 0 {
		return nil
	}

	rec := r.records[idx]
	if rec.cancel != nil {
		rec.cancel()
	}

	r.records = append(r.records[:idx], r.records[idx+1:]...)

	return rec
}

// Records returns the records in insertion order.
func (r *Registry) Records() []*Record {
	return append([]*Record(nil), r.records...)
}

// Len returns the number of registered livemarks.
func (r *Registry) Len() int {
	return len(r.records)
}

func (r *Registry) contains(rec *Record) bool {
	idx := r.index(rec.FolderID)

	return idx >= 0 && r.records[idx] == rec
}

func (r *Registry) index(folderID int64) int {
	for i, rec := range r.records {
		if rec.FolderID == folderID {
			return i
		}
	}

	return -1
}
