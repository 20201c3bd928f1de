package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/feedsync/gateway"
	"github.com/c360studio/feedsync/identity"
	"github.com/c360studio/feedsync/store"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	respond func(ctx context.Context, mutation string, payload any) (*store.ServerResult, error)
}

func (f *fakeGateway) Send(ctx context.Context, mutation string, payload any) (*store.ServerResult, error) {
	f.mu.Lock()
	f.calls++
	fn := f.respond
	f.mu.Unlock()
	return fn(ctx, mutation, payload)
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func postView() *store.Store {
	return store.NewFromSnapshot([]store.Entity{
		{ID: "p-1", Fields: map[string]any{"title": "hello", "likes": 15, "is_liked": false}},
	})
}

func likeIntent() store.Intent {
	return store.Intent{
		Kind:         store.IntentToggle,
		TargetID:     "p-1",
		ToggleField:  "is_liked",
		CounterField: "likes",
	}
}

func TestInsertConfirmSwapsServerID(t *testing.T) {
	gw := &fakeGateway{respond: func(context.Context, string, any) (*store.ServerResult, error) {
		return &store.ServerResult{ID: "r-42"}, nil
	}}
	c := New("rooms", store.New(), gw, nil)

	h, err := c.Submit(context.Background(), Submission{
		Intent: store.Intent{
			Kind:   store.IntentInsert,
			Insert: store.Entity{Fields: map[string]any{"name": "general"}},
		},
		Mutation: gateway.MutationCreateRoom,
		Payload:  gateway.CreateRoom{Name: "general", UserID: "u-1"},
	})
	require.NoError(t, err)

	state, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, state)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "r-42", snap[0].ID)
}

func TestGatewayErrorRollsBack(t *testing.T) {
	gw := &fakeGateway{respond: func(context.Context, string, any) (*store.ServerResult, error) {
		return nil, gateway.ErrRemoteWrite
	}}
	c := New("posts", postView(), gw, nil)

	h, err := c.Submit(context.Background(), Submission{Intent: likeIntent()})
	require.NoError(t, err)

	state, err := h.Wait(context.Background())
	assert.Equal(t, StateRolledBack, state)
	assert.ErrorIs(t, err, gateway.ErrRemoteWrite)

	e, ok := c.Get("p-1")
	require.True(t, ok)
	assert.Equal(t, false, e.Fields["is_liked"])
	assert.Equal(t, 15, e.Fields["likes"])
}

func TestUnauthorizedFailsBeforeSpeculation(t *testing.T) {
	gw := &fakeGateway{respond: func(context.Context, string, any) (*store.ServerResult, error) {
		return &store.ServerResult{}, nil
	}}
	c := New("posts", postView(), gw, nil, WithVerifier(identity.NewVerifier([]byte("secret"))))

	_, err := c.Submit(context.Background(), Submission{Intent: likeIntent(), Token: "garbage"})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	e, _ := c.Get("p-1")
	assert.Equal(t, false, e.Fields["is_liked"])
	assert.Equal(t, 0, gw.callCount())
}

func TestCollidingTogglesSerialize(t *testing.T) {
	release := make(chan struct{})
	var inFlight atomic.Int32
	gw := &fakeGateway{respond: func(ctx context.Context, _ string, payload any) (*store.ServerResult, error) {
		if inFlight.Add(1) == 1 {
			<-release
		}
		p := payload.(gateway.ToggleLike)
		likes := 15
		if p.Liked {
			likes = 16
		}
		return &store.ServerResult{Fields: map[string]any{"is_liked": p.Liked, "likes": likes}}, nil
	}}
	c := New("posts", postView(), gw, nil)

	h1, err := c.Submit(context.Background(), Submission{
		Intent:  likeIntent(),
		Payload: gateway.ToggleLike{PostID: "p-1", UserID: "u-1", Liked: true},
	})
	require.NoError(t, err)

	h2, err := c.Submit(context.Background(), Submission{
		Intent:  likeIntent(),
		Payload: gateway.ToggleLike{PostID: "p-1", UserID: "u-1", Liked: false},
	})
	require.NoError(t, err)
	assert.Equal(t, StateQueued, h2.State())

	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := h1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, state)
	state, err = h2.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, state)

	e, _ := c.Get("p-1")
	assert.Equal(t, false, e.Fields["is_liked"])
	assert.Equal(t, 15, e.Fields["likes"])
}

func TestCollidingUpdatesSerialize(t *testing.T) {
	release := make(chan struct{})
	var inFlight atomic.Int32
	gw := &fakeGateway{respond: func(context.Context, string, any) (*store.ServerResult, error) {
		if inFlight.Add(1) == 1 {
			<-release
			return nil, gateway.ErrRemoteWrite
		}
		return &store.ServerResult{}, nil
	}}
	c := New("posts", postView(), gw, nil)

	h1, err := c.Submit(context.Background(), Submission{Intent: store.Intent{
		Kind: store.IntentUpdate, TargetID: "p-1",
		Fields: map[string]any{"title": "first"},
	}})
	require.NoError(t, err)

	h2, err := c.Submit(context.Background(), Submission{Intent: store.Intent{
		Kind: store.IntentUpdate, TargetID: "p-1",
		Fields: map[string]any{"title": "second"},
	}})
	require.NoError(t, err)
	require.Equal(t, StateQueued, h2.State())

	// The queued update has not speculated yet; only the first shows.
	e, _ := c.Get("p-1")
	assert.Equal(t, "first", e.Fields["title"])

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := h1.Wait(ctx)
	assert.Equal(t, StateRolledBack, state)
	assert.ErrorIs(t, err, gateway.ErrRemoteWrite)
	state, err = h2.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, state)

	// The first update's rollback never disturbed the second.
	e, _ = c.Get("p-1")
	assert.Equal(t, "second", e.Fields["title"])
}

func TestTimeoutRollsBack(t *testing.T) {
	gw := &fakeGateway{respond: func(ctx context.Context, _ string, _ any) (*store.ServerResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := New("posts", postView(), gw, nil, WithTimeout(20*time.Millisecond))

	h, err := c.Submit(context.Background(), Submission{Intent: likeIntent()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := h.Wait(ctx)
	assert.Equal(t, StateRolledBack, state)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	e, _ := c.Get("p-1")
	assert.Equal(t, 15, e.Fields["likes"])
}

func TestCancelRollsBackAndLateSuccessIsIgnored(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{respond: func(context.Context, string, any) (*store.ServerResult, error) {
		<-release
		return &store.ServerResult{Fields: map[string]any{"likes": 16, "is_liked": true}}, nil
	}}
	c := New("posts", postView(), gw, nil)

	h, err := c.Submit(context.Background(), Submission{Intent: likeIntent()})
	require.NoError(t, err)

	c.Cancel(h.IntentID)
	assert.Equal(t, StateRolledBack, h.State())
	assert.ErrorIs(t, h.Err(), ErrCanceled)

	e, _ := c.Get("p-1")
	assert.Equal(t, 15, e.Fields["likes"])

	// The remote write lands after the cancel. The overlay is gone, so
	// the late confirm must not touch the view.
	close(release)
	require.Eventually(t, func() bool { return c.Pending() == 0 }, time.Second, 5*time.Millisecond)
	e, _ = c.Get("p-1")
	assert.Equal(t, 15, e.Fields["likes"])
	assert.Equal(t, StateRolledBack, h.State())
}

func TestCancelQueuedToggleNeverStarts(t *testing.T) {
	release := make(chan struct{})
	var inFlight atomic.Int32
	gw := &fakeGateway{respond: func(_ context.Context, _ string, payload any) (*store.ServerResult, error) {
		if inFlight.Add(1) == 1 {
			<-release
		}
		p := payload.(gateway.ToggleLike)
		likes := 15
		if p.Liked {
			likes = 16
		}
		return &store.ServerResult{Fields: map[string]any{"is_liked": p.Liked, "likes": likes}}, nil
	}}
	c := New("posts", postView(), gw, nil)

	h1, err := c.Submit(context.Background(), Submission{
		Intent:  likeIntent(),
		Payload: gateway.ToggleLike{PostID: "p-1", UserID: "u-1", Liked: true},
	})
	require.NoError(t, err)

	h2, err := c.Submit(context.Background(), Submission{
		Intent:  likeIntent(),
		Payload: gateway.ToggleLike{PostID: "p-1", UserID: "u-1", Liked: false},
	})
	require.NoError(t, err)
	require.Equal(t, StateQueued, h2.State())

	c.Cancel(h2.IntentID)
	assert.Equal(t, StateRolledBack, h2.State())
	assert.ErrorIs(t, h2.Err(), ErrCanceled)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := h1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, state)

	// The cancelled toggle never speculated and never reached the
	// gateway; the view holds the surviving intent's outcome.
	require.Eventually(t, func() bool { return c.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, gw.callCount())
	e, _ := c.Get("p-1")
	assert.Equal(t, true, e.Fields["is_liked"])
	assert.Equal(t, 16, e.Fields["likes"])
}

func TestConflictingPushDeferredUntilSettle(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{respond: func(context.Context, string, any) (*store.ServerResult, error) {
		<-release
		return &store.ServerResult{Fields: map[string]any{"is_liked": true, "likes": 16}}, nil
	}}
	c := New("posts", postView(), gw, nil)

	h, err := c.Submit(context.Background(), Submission{Intent: likeIntent()})
	require.NoError(t, err)

	// Another client's like arrives while ours is speculating. It must
	// not clobber the speculative state.
	c.OnPush(store.Push{
		Kind:   store.PushUpdate,
		Entity: store.Entity{ID: "p-1", Fields: map[string]any{"likes": 17, "title": "hello!"}},
	})
	e, _ := c.Get("p-1")
	assert.Equal(t, 16, e.Fields["likes"])
	assert.Equal(t, "hello", e.Fields["title"])

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = h.Wait(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		e, _ := c.Get("p-1")
		return e.Fields["likes"] == 17
	}, time.Second, 5*time.Millisecond)

	// The deferred push merged after the confirm.
	e, _ = c.Get("p-1")
	assert.Equal(t, "hello!", e.Fields["title"])
}

func TestNonConflictingPushMergesImmediately(t *testing.T) {
	gw := &fakeGateway{respond: func(context.Context, string, any) (*store.ServerResult, error) {
		return &store.ServerResult{}, nil
	}}
	c := New("posts", postView(), gw, nil)

	c.OnPush(store.Push{
		Kind:   store.PushInsert,
		Entity: store.Entity{ID: "p-2", Fields: map[string]any{"title": "new post"}},
	})
	assert.Len(t, c.Snapshot(), 2)
}

func TestInvalidIntentLeavesViewUntouched(t *testing.T) {
	gw := &fakeGateway{respond: func(context.Context, string, any) (*store.ServerResult, error) {
		return &store.ServerResult{}, nil
	}}
	c := New("posts", postView(), gw, nil)

	_, err := c.Submit(context.Background(), Submission{Intent: store.Intent{Kind: store.IntentToggle}})
	assert.ErrorIs(t, err, store.ErrInvalidIntent)
	assert.Equal(t, 0, gw.callCount())
}

func TestSubmitAfterCloseRejected(t *testing.T) {
	gw := &fakeGateway{respond: func(context.Context, string, any) (*store.ServerResult, error) {
		return &store.ServerResult{}, nil
	}}
	c := New("posts", postView(), gw, nil)
	c.Close()

	_, err := c.Submit(context.Background(), Submission{Intent: likeIntent()})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueuedIntentRolledBackOnClose(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	gw := &fakeGateway{respond: func(context.Context, string, any) (*store.ServerResult, error) {
		<-release
		return nil, errors.New("late")
	}}
	c := New("posts", postView(), gw, nil)

	_, err := c.Submit(context.Background(), Submission{Intent: likeIntent()})
	require.NoError(t, err)
	h2, err := c.Submit(context.Background(), Submission{Intent: likeIntent()})
	require.NoError(t, err)
	require.Equal(t, StateQueued, h2.State())

	c.Close()
	assert.Equal(t, StateRolledBack, h2.State())
	assert.ErrorIs(t, h2.Err(), ErrClosed)
}
