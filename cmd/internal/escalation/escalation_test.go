package escalation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeSession struct{ cleared atomic.Int32 }

func (f *fakeSession) MarkInactive(context.Context) { f.cleared.Add(1) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEscalator(view string) (*Escalator, *fakeSession, *RecordingNavigator, *atomic.Int32) {
	sess := &fakeSession{}
	nav := NewRecordingNavigator(view)
	var notes atomic.Int32
	e := New(sess,
		WithNavigator(nav),
		WithNotifier(NotifierFunc(func(context.Context, string, error) { notes.Add(1) })),
		WithLogger(quietLogger()),
	)
	return e, sess, nav, &notes
}

func TestEscalate_RedirectsWithExpiredIndicator(t *testing.T) {
	t.Parallel()

	e, sess, nav, notes := newTestEscalator("/forums/42")
	if !e.Escalate(context.Background(), Event{Episode: 1, Cause: errors.New("refresh 401")}) {
		t.Fatalf("first escalation should act")
	}

	if got := nav.History(); len(got) != 1 || got[0] != "/login?expired=1" {
		t.Fatalf("history=%q", got)
	}
	if sess.cleared.Load() != 1 {
		t.Fatalf("session cleared %d times", sess.cleared.Load())
	}
	if notes.Load() != 1 {
		t.Fatalf("notified %d times", notes.Load())
	}
}

func TestEscalate_IdempotentPerEpisode(t *testing.T) {
	t.Parallel()

	e, _, nav, notes := newTestEscalator("/travels")

	var wg sync.WaitGroup
	var acted atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Escalate(context.Background(), Event{Episode: 7}) {
				acted.Add(1)
			}
		}()
	}
	wg.Wait()

	if acted.Load() != 1 {
		t.Fatalf("acted %d times, want 1", acted.Load())
	}
	if len(nav.History()) != 1 || notes.Load() != 1 {
		t.Fatalf("navigations=%d notifications=%d", len(nav.History()), notes.Load())
	}

	if e.Escalate(context.Background(), Event{Episode: 6}) {
		t.Fatalf("older episode must be ignored")
	}
	nav.SetView("/forums")
	if !e.Escalate(context.Background(), Event{Episode: 8}) {
		t.Fatalf("new episode should act")
	}
	if len(nav.History()) != 2 {
		t.Fatalf("history=%q", nav.History())
	}
}

func TestEscalate_AlreadyOnLogin(t *testing.T) {
	t.Parallel()

	for _, view := range []string{"/login", "/login/", "/login?next=%2Fforums"} {
		e, sess, nav, notes := newTestEscalator(view)
		e.Escalate(context.Background(), Event{Episode: 1})
		if len(nav.History()) != 0 {
			t.Fatalf("view %q: unexpected navigation %q", view, nav.History())
		}
		if sess.cleared.Load() != 1 || notes.Load() != 1 {
			t.Fatalf("view %q: cleared=%d notes=%d", view, sess.cleared.Load(), notes.Load())
		}
	}
}

func TestEscalate_CustomLoginView(t *testing.T) {
	t.Parallel()

	nav := NewRecordingNavigator("/")
	e := New(nil, WithNavigator(nav), WithLoginView("/auth/sign-in"), WithLogger(quietLogger()))
	e.Escalate(context.Background(), Event{})
	if got := nav.History(); len(got) != 1 || got[0] != "/auth/sign-in?expired=1" {
		t.Fatalf("history=%q", got)
	}
}

func TestLogNavigator(t *testing.T) {
	t.Parallel()

	n := NewLogNavigator(quietLogger(), "/home")
	if err := n.Navigate(context.Background(), "/login?expired=1"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if n.CurrentView() != "/login?expired=1" {
		t.Fatalf("current=%q", n.CurrentView())
	}
}
