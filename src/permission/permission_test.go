package permission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"potpie.org/locationshare/src/fault"
)

type fakeOS struct {
	mu      sync.Mutex
	status  map[Scope]State
	answers map[Scope][]State
	prompts int
	block   bool
}

func newFakeOS() *fakeOS {
	return &fakeOS{
		status:  map[Scope]State{},
		answers: map[Scope][]State{},
	}
}

func (f *fakeOS) Status(scope Scope) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[scope]
}

func (f *fakeOS) Prompt(ctx context.Context, scope Scope) (State, error) {
	f.mu.Lock()
	f.prompts++
	block := f.block
	var answer State
	if q := f.answers[scope]; len(q) > 0 {
		answer = q[0]
		f.answers[scope] = q[1:]
	}
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return Unknown, ctx.Err()
	}
	return answer, nil
}

func nextChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("no permission change published")
	}
	return Change{}
}

func TestRequestForegroundPromptsAndPublishes(t *testing.T) {
	os := newFakeOS()
	os.answers[ScopeForeground] = []State{ForegroundGranted}
	g := NewGate(os)
	defer g.Close()
	changes, cancel := g.Changes()
	defer cancel()

	assert.Equal(t, Unknown, g.CheckForeground())
	st, err := g.RequestForeground(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ForegroundGranted, st)
	assert.Equal(t, ForegroundGranted, g.CheckForeground())
	assert.Equal(t, Change{Scope: ScopeForeground, Previous: Unknown, Current: ForegroundGranted}, nextChange(t, changes))

	// already granted: no second prompt
	_, err = g.RequestForeground(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, os.prompts)
}

func TestRequestBackgroundRequiresForeground(t *testing.T) {
	g := NewGate(newFakeOS())
	defer g.Close()

	_, err := g.RequestBackground(context.Background())
	assert.True(t, errors.Is(err, fault.ErrInvalidSequence))
}

func TestRequestBackgroundAfterForeground(t *testing.T) {
	os := newFakeOS()
	os.status[ScopeForeground] = ForegroundGranted
	os.answers[ScopeBackground] = []State{BackgroundGranted}
	g := NewGate(os)
	defer g.Close()

	st, err := g.RequestBackground(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BackgroundGranted, st)
	assert.Equal(t, BackgroundGranted, g.CheckBackground())
}

func TestSecondDenialIsPermanent(t *testing.T) {
	os := newFakeOS()
	os.answers[ScopeForeground] = []State{Denied, Denied, ForegroundGranted}
	g := NewGate(os)
	defer g.Close()

	st, err := g.RequestForeground(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Denied, st)

	st, err = g.RequestForeground(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermanentlyDenied, st)

	// terminal: no more prompts
	st, err = g.RequestForeground(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermanentlyDenied, st)
	assert.Equal(t, 2, os.prompts)
}

func TestSettingsChangeLeavesPermanentlyDeniedThroughUnknown(t *testing.T) {
	os := newFakeOS()
	os.status[ScopeForeground] = PermanentlyDenied
	g := NewGate(os)
	defer g.Close()
	changes, cancel := g.Changes()
	defer cancel()

	g.HandleExternalChange(Update{Scope: ScopeForeground, State: ForegroundGranted})
	assert.Equal(t, Unknown, g.CheckForeground())
	assert.Equal(t, Change{Scope: ScopeForeground, Previous: PermanentlyDenied, Current: Unknown}, nextChange(t, changes))
}

func TestForegroundRevocationAlsoRevokesBackground(t *testing.T) {
	os := newFakeOS()
	os.status[ScopeForeground] = ForegroundGranted
	os.status[ScopeBackground] = BackgroundGranted
	g := NewGate(os)
	defer g.Close()
	changes, cancel := g.Changes()
	defer cancel()

	g.HandleExternalChange(Update{Scope: ScopeForeground, State: Denied})

	first := nextChange(t, changes)
	second := nextChange(t, changes)
	assert.True(t, first.Revoked())
	assert.Equal(t, ScopeForeground, first.Scope)
	assert.True(t, second.Revoked())
	assert.Equal(t, ScopeBackground, second.Scope)
	assert.Equal(t, Denied, g.CheckBackground())
}

func TestPromptHonoursContext(t *testing.T) {
	os := newFakeOS()
	os.block = true
	g := NewGate(os)
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := g.RequestForeground(ctx)
	assert.Equal(t, Unknown, st)
	assert.True(t, errors.Is(err, fault.ErrTimeout))
}

type eventOS struct {
	*fakeOS
	updates chan Update
}

func (e *eventOS) AuthorizationChanges() (<-chan Update, func()) {
	return e.updates, func() {}
}

func TestExternalEventSourceIsRepublished(t *testing.T) {
	os := &eventOS{fakeOS: newFakeOS(), updates: make(chan Update, 1)}
	g := NewGate(os)
	defer g.Close()
	changes, cancel := g.Changes()
	defer cancel()

	os.updates <- Update{Scope: ScopeForeground, State: ForegroundGranted}
	c := nextChange(t, changes)
	assert.Equal(t, ForegroundGranted, c.Current)
}
