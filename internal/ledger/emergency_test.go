package ledger_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"FuelSOS/internal/models"
	"FuelSOS/internal/testutil"
	"FuelSOS/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEmergency(t *testing.T, f *fixture) (*models.SOSRequest, []models.Assignment) {
	t.Helper()
	testutil.SeedAttendant(t, f.st, "att_a", 1)
	testutil.SeedAttendant(t, f.st, "att_b", 2)
	testutil.SeedAttendant(t, f.st, "att_c", 3)
	testutil.SeedAttendant(t, f.st, "att_d", 4)
	testutil.SeedAttendant(t, f.st, "att_x", 0.5, testutil.Unverified)
	req := testutil.SeedRequest(t, f.st, "driver_1", models.PriorityEmergency)

	offers, err := f.l.CommitMultiple(context.Background(), req.ID, f.candidates(t, 15), 3)
	require.NoError(t, err)
	return req, offers
}

func TestCommitMultipleRanksAndDefersBooking(t *testing.T) {
	f := newFixture(t)
	req, offers := seedEmergency(t, f)

	require.Len(t, offers, 3)
	for i, want := range []string{"att_a", "att_b", "att_c"} {
		assert.Equal(t, want, offers[i].AttendantID)
		assert.Equal(t, i+1, offers[i].Rank)
		assert.Equal(t, models.AssignmentPending, offers[i].Status)
		assert.Equal(t, f.clock.Now().Add(2*time.Minute), offers[i].ExpiresAt)
		assert.True(t, f.attendant(t, want).IsAvailable)
	}

	got := f.request(t, req.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.EmergencyAssignmentIDs)
	assert.Nil(t, got.AssignedAttendantID)

	_, err := f.l.CommitMultiple(context.Background(), req.ID, f.candidates(t, 15), 3)
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyAssigned))
}

func TestCommitMultipleNoCandidates(t *testing.T) {
	f := newFixture(t)
	req := testutil.SeedRequest(t, f.st, "driver_1", models.PriorityEmergency)

	offers, err := f.l.CommitMultiple(context.Background(), req.ID, nil, 3)
	require.NoError(t, err)
	assert.NotNil(t, offers)
	assert.Empty(t, offers)
	assert.Equal(t, models.StatusPending, f.request(t, req.ID).Status)
}

func TestAcceptFirstWins(t *testing.T) {
	f := newFixture(t)
	req, offers := seedEmergency(t, f)
	ctx := context.Background()

	type outcome struct {
		attendant string
		err       error
	}
	results := make([]outcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.l.Accept(ctx, offers[i].ID, offers[i].AttendantID)
			results[i] = outcome{offers[i].AttendantID, err}
		}()
	}
	wg.Wait()

	var winner, loser outcome
	switch {
	case results[0].err == nil && results[1].err != nil:
		winner, loser = results[0], results[1]
	case results[1].err == nil && results[0].err != nil:
		winner, loser = results[1], results[0]
	default:
		t.Fatalf("expected exactly one winner, got %v / %v", results[0].err, results[1].err)
	}
	assert.True(t, stderrors.Is(loser.err, errors.ErrAlreadyClaimed), "%v", loser.err)

	got := f.request(t, req.ID)
	assert.Equal(t, models.StatusAssigned, got.Status)
	require.NotNil(t, got.AssignedAttendantID)
	assert.Equal(t, winner.attendant, *got.AssignedAttendantID)
	require.NotNil(t, got.WinningAssignmentID)
	assert.Equal(t, []string{offers[0].ID, offers[1].ID, offers[2].ID}, []string(got.EmergencyAssignmentIDs))

	assert.False(t, f.attendant(t, winner.attendant).IsAvailable)
	assert.True(t, f.attendant(t, loser.attendant).IsAvailable)

	all, err := f.st.ListAssignments(ctx, req.ID)
	require.NoError(t, err)
	accepted := 0
	for _, a := range all {
		switch a.Status {
		case models.AssignmentAccepted:
			accepted++
		case models.AssignmentDeclined:
		default:
			t.Errorf("assignment %s left %s", a.ID, a.Status)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestAcceptReturnsDeclinedSiblings(t *testing.T) {
	f := newFixture(t)
	_, offers := seedEmergency(t, f)

	res, err := f.l.Accept(context.Background(), offers[1].ID, "att_b")
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentAccepted, res.Assignment.Status)
	require.Len(t, res.Declined, 2)
	assert.ElementsMatch(t, []string{"att_a", "att_c"},
		[]string{res.Declined[0].AttendantID, res.Declined[1].AttendantID})

	_, err = f.l.Accept(context.Background(), offers[0].ID, "att_a")
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyClaimed))
}

func TestAcceptRejectsOtherAttendant(t *testing.T) {
	f := newFixture(t)
	_, offers := seedEmergency(t, f)

	_, err := f.l.Accept(context.Background(), offers[0].ID, "att_b")
	assert.Equal(t, errors.KindForbidden, errors.KindOf(err))
}

func TestAcceptAfterWindow(t *testing.T) {
	f := newFixture(t)
	req, offers := seedEmergency(t, f)
	f.clock.Advance(2 * time.Minute)

	_, err := f.l.Accept(context.Background(), offers[0].ID, "att_a")
	assert.True(t, stderrors.Is(err, errors.ErrAssignmentExpired))

	a, err := f.st.GetAssignment(context.Background(), offers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentExpired, a.Status)
	assert.Equal(t, models.StatusPending, f.request(t, req.ID).Status)
	assert.True(t, f.attendant(t, "att_a").IsAvailable)
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, offers := seedEmergency(t, f)

	expired, err := f.l.ExpireDue(ctx, f.clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, expired)

	_, err = f.l.Accept(ctx, offers[2].ID, "att_c")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Minute)
	expired, err = f.l.ExpireDue(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, expired, "siblings were declined by the accept")

	a, err := f.st.GetAssignment(ctx, offers[2].ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentAccepted, a.Status)
}

func TestExpireDueSweepsOpenOffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, offers := seedEmergency(t, f)

	f.clock.Advance(2 * time.Minute)
	expired, err := f.l.ExpireDue(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Len(t, expired, 3)

	_, err = f.l.Accept(ctx, offers[0].ID, "att_a")
	assert.True(t, stderrors.Is(err, errors.ErrAssignmentExpired))
}

func TestDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, offers := seedEmergency(t, f)

	a, err := f.l.Decline(ctx, offers[0].ID, "att_a")
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentDeclined, a.Status)

	_, err = f.l.Decline(ctx, offers[0].ID, "att_a")
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyClaimed))
	_, err = f.l.Accept(ctx, offers[0].ID, "att_a")
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyClaimed))

	_, err = f.l.Accept(ctx, offers[1].ID, "att_b")
	require.NoError(t, err)
}
