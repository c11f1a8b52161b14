package store

import (
	"log/slog"
	"sync"
)

// EventKind names a bookmark tree change.
type EventKind int

const (
	ItemAdded EventKind = iota + 1
	ItemRemoved
)

func (k EventKind) String() string {
	switch k {
	case ItemAdded:
		return "item_added"
	case ItemRemoved:
		return "item_removed"
	default:
		return "unknown"
	}
}

// Event describes one committed change to the bookmark tree.
type Event struct {
	ItemKind ItemKind
	URI      string
	ID       int64
	ParentID int64
	Index    int
	Kind     EventKind
}

// Observer receives change events. It runs on the goroutine that committed
// the change and must not call back into a store mutation.
type Observer func(Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	store *Store
	once  sync.Once
	id    uint64
}

// Subscribe registers fn for every committed change until the returned
// subscription is closed.
func (s *Store) Subscribe(fn Observer) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	s.observers[s.nextSubID] = fn

	return &Subscription{store: s, id: s.nextSubID}
}

// Close stops delivery. It is safe to call more than once.
func (sub *Subscription) Close() {
	if sub == nil {
		return
	}

	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.observers, sub.id)
		sub.store.mu.Unlock()
	})
}

func (s *Store) notify(events []Event) {
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, event := range events {
		slog.Debug("bookmark change", "kind", event.Kind.String(), "item_id", event.ID, "parent_id", event.ParentID)

		for _, fn := range observers {
			fn(event)
		}
	}
}
