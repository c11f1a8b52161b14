package livemark

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestRegistryAddFindRemove(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	if idx, err := r.Add(10, "https://a.example/feed"); err != nil || idx != 0 {
		t.Fatalf("Add = %d, %v", idx, err)
	}
	if idx, err := r.Add(11, "https://b.example/feed"); err != nil || idx != 1 {
		t.Fatalf("Add = %d, %v", idx, err)
	}
	if _, err := r.Add(10, "https://c.example/feed"); !errors.Is(err, ErrDuplicateLivemark) {
		t.Fatalf("duplicate Add = %v", err)
	}

	rec, err := r.Find(11)
	if err != nil || rec.FeedURI != "https://b.example/feed" || rec.placeholderID != NoPlaceholder {
		t.Fatalf("Find = %+v, %v", rec, err)
	}

	cancelled := 0
	rec.cancel = func() { cancelled++ }

	if got := r.Remove(11); got != rec {
		t.Fatalf("Remove returned %+v", got)
	}
	if cancelled != 1 {
		t.Fatalf("cancel called %d times", cancelled)
	}
	if got := r.Remove(11); got != nil {
		t.Fatalf("second Remove returned %+v", got)
	}
	if _, err := r.Find(11); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find after Remove = %v", err)
	}
	if r.contains(rec) || r.Len() != 1 {
		t.Fatal("record still tracked")
	}
}

func TestDefaultTTL(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]time.Duration{
		0:                DefaultExpiration,
		-time.Second:     DefaultExpiration,
		10 * time.Second: MinExpiration,
		2 * time.Hour:    2 * time.Hour,
	}

	for in, want := range cases {
		if got := DefaultTTL(in); got != want {
			t.Errorf("DefaultTTL(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestRefreshInterval(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]time.Duration{
		time.Hour:                      15 * time.Minute,
		time.Minute:                    15 * time.Second,
		8 * time.Hour:                  MaxRefreshTime,
		time.Minute + time.Millisecond: 15 * time.Second,
	}

	for in, want := range cases {
		if got := RefreshInterval(in); got != want {
			t.Errorf("RefreshInterval(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestExpirationRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1767225600123)

	got, err := parseExpiration(formatExpiration(at))
	if err != nil || !got.Equal(at) {
		t.Fatalf("parseExpiration = %s, %v", got, err)
	}

	if _, err := parseExpiration("tomorrow"); err == nil {
		t.Fatal("expected error for non-numeric expiration")
	}
}

func TestStateTerminal(t *testing.T) {
	t.Parallel()

	for state, want := range map[State]bool{
		StateOpening:    false,
		StateStreaming:  false,
		StateCommitting: false,
		StateDone:       true,
		StateFailed:     true,
		StateAborted:    true,
	} {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestSessionStateIsFinalOnceTerminal(t *testing.T) {
	t.Parallel()

	ls := &loadSession{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	ls.setState(StateStreaming)
	ls.setState(StateAborted)
	ls.setState(StateCommitting)
	ls.setState(StateDone)

	if got := ls.currentState(); got != StateAborted {
		t.Fatalf("state = %s, want aborted", got)
	}
}
