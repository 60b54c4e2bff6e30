package mutate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gather/apperr"
	"gather/models"
	"gather/store"
)

func TestDuplicatePendingRequestRejected(t *testing.T) {
	mem := store.NewMemory()
	coord := NewCoordinator(mem)
	ctx := context.Background()

	owner := newUserID()
	groupID := seedGroup(t, mem, owner)
	applicant := ident(newUserID())

	req, err := coord.CreateRequest(ctx, applicant, "group", groupID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req.Status)

	_, err = coord.CreateRequest(ctx, applicant, "group", groupID)
	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "CONFLICT", ae.Code)

	// Once decided, a new request is allowed again.
	_, err = coord.DecideRequest(ctx, ident(owner), req.ID.Hex(), false)
	require.NoError(t, err)
	_, err = coord.CreateRequest(ctx, applicant, "group", groupID)
	require.NoError(t, err)
}

func TestDecideRequestIsTerminal(t *testing.T) {
	mem := store.NewMemory()
	coord := NewCoordinator(mem)
	ctx := context.Background()

	owner := newUserID()
	groupID := seedGroup(t, mem, owner)
	applicant := newUserID()

	req, err := coord.CreateRequest(ctx, ident(applicant), "group", groupID)
	require.NoError(t, err)

	// Only a moderator decides.
	_, err = coord.DecideRequest(ctx, ident(newUserID()), req.ID.Hex(), true)
	require.Error(t, err)

	decided, err := coord.DecideRequest(ctx, ident(owner), req.ID.Hex(), true)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, decided.Status)

	// Membership followed the accept.
	doc, err := mem.Get(ctx, store.CollGroups, groupID)
	require.NoError(t, err)
	var g models.Group
	require.NoError(t, doc.Decode(&g))
	assert.Equal(t, "member", g.RoleOf(applicant))

	// The decision cannot be flipped.
	_, err = coord.DecideRequest(ctx, ident(owner), req.ID.Hex(), false)
	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "CONFLICT", ae.Code)
}

// barrierStore holds every reader of the requests collection at a barrier so
// two concurrent decides both observe the request as pending before either
// writes.
type barrierStore struct {
	store.Store
	barrier *sync.WaitGroup
}

func (b *barrierStore) Get(ctx context.Context, collection, id string) (store.Doc, error) {
	doc, err := b.Store.Get(ctx, collection, id)
	if collection == store.CollRequests && err == nil {
		b.barrier.Done()
		b.barrier.Wait()
	}
	return doc, err
}

func TestConcurrentDecidesResolveToOneWinner(t *testing.T) {
	mem := store.NewMemory()
	var barrier sync.WaitGroup
	barrier.Add(2)
	coord := NewCoordinator(&barrierStore{Store: mem, barrier: &barrier})
	ctx := context.Background()

	from, target := newUserID(), newUserID()
	req, err := coord.CreateRequest(ctx, ident(from), "connection", target)
	require.NoError(t, err)

	// The target's two devices decide differently at the same moment. Both
	// pass the pending check; only one write may land.
	type outcome struct {
		accept bool
		err    error
	}
	results := make(chan outcome, 2)
	for _, accept := range []bool{true, false} {
		go func(accept bool) {
			_, err := coord.DecideRequest(ctx, ident(target), req.ID.Hex(), accept)
			results <- outcome{accept: accept, err: err}
		}(accept)
	}

	var winner *outcome
	var conflicts int
	for i := 0; i < 2; i++ {
		got := <-results
		if got.err == nil {
			require.Nil(t, winner, "both decides succeeded")
			w := got
			winner = &w
			continue
		}
		ae := apperr.As(got.err)
		require.NotNil(t, ae)
		assert.Equal(t, "CONFLICT", ae.Code)
		conflicts++
	}
	require.NotNil(t, winner, "neither decide succeeded")
	assert.Equal(t, 1, conflicts)

	// The stored status is the winner's, never the loser's overwrite.
	doc, err := mem.Get(ctx, store.CollRequests, req.ID.Hex())
	require.NoError(t, err)
	var stored models.JoinRequest
	require.NoError(t, doc.Decode(&stored))
	want := models.RequestRejected
	if winner.accept {
		want = models.RequestAccepted
	}
	assert.Equal(t, want, stored.Status)
}

func TestConnectionRequestDecidedByTarget(t *testing.T) {
	mem := store.NewMemory()
	coord := NewCoordinator(mem)
	ctx := context.Background()

	from, target := newUserID(), newUserID()
	req, err := coord.CreateRequest(ctx, ident(from), "connection", target)
	require.NoError(t, err)

	// The sender cannot accept their own request.
	_, err = coord.DecideRequest(ctx, ident(from), req.ID.Hex(), true)
	require.Error(t, err)

	decided, err := coord.DecideRequest(ctx, ident(target), req.ID.Hex(), true)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, decided.Status)
}
