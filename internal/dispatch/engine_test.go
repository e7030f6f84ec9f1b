package dispatch_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"FuelSOS/internal/dispatch"
	"FuelSOS/internal/fanout"
	"FuelSOS/internal/geo"
	"FuelSOS/internal/ledger"
	"FuelSOS/internal/lifecycle"
	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/internal/testutil"
	"FuelSOS/pkg/errors"
	"FuelSOS/pkg/metrics"
	"FuelSOS/pkg/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type push struct {
	to, event string
	payload   interface{}
}

type hub struct {
	mu     sync.Mutex
	online map[string]bool
	sends  []push
	groups []push
}

func (h *hub) IsOnline(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online[userID]
}

func (h *hub) Send(userID, event string, payload interface{}) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sends = append(h.sends, push{userID, event, payload})
	return true
}

func (h *hub) BroadcastToGroup(group, event string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groups = append(h.groups, push{group, event, payload})
}

func (h *hub) sent(event string) []push {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []push
	for _, p := range h.sends {
		if p.event == event {
			out = append(out, p)
		}
	}
	return out
}

func (h *hub) broadcast(event string) []push {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []push
	for _, p := range h.groups {
		if p.event == event {
			out = append(out, p)
		}
	}
	return out
}

type fixture struct {
	st     *store.Store
	engine *dispatch.Engine
	hub    *hub
	reg    *prometheus.Registry
	now    time.Time
}

func (f *fixture) dispatches(priority, outcome string) float64 {
	mfs, _ := f.reg.Gather()
	for _, mf := range mfs {
		if mf.GetName() != "fuelsos_dispatch_outcomes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["priority"] == priority && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func newFixture(t *testing.T, dir func(*store.Store) geo.Directory) *fixture {
	t.Helper()
	st := testutil.NewStore(t)
	h := &hub{online: map[string]bool{}}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	n := fanout.NewNotifier(h, st, m)
	l := ledger.New(st, util.NewKeyedMutex(), geo.NewETAEstimator(30),
		&lifecycle.Announcer{Publisher: n}, m, 2*time.Minute)

	var d geo.Directory = geo.NewStoreDirectory(st)
	if dir != nil {
		d = dir(st)
	}
	e := dispatch.NewEngine(st, geo.NewFinder(d), l, n, m, dispatch.Config{})
	f := &fixture{st: st, engine: e, hub: h, reg: reg, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	e.SetClock(func() time.Time { return f.now })
	return f
}

func intake(user string) dispatch.Intake {
	return dispatch.Intake{
		RequesterID: user,
		Location:    testutil.Johannesburg,
		Type:        models.TypeFuelEmergency,
	}
}

func TestJohannesburgAssignsNearest(t *testing.T) {
	f := newFixture(t, nil)
	testutil.SeedAttendant(t, f.st, "att_near", 1.2)
	testutil.SeedAttendant(t, f.st, "att_mid", 2.1)
	f.hub.online["att_near"] = true

	res, err := f.engine.Submit(context.Background(), intake("driver_1"))
	require.NoError(t, err)

	assert.Equal(t, dispatch.OutcomeAssigned, res.Outcome)
	require.NotNil(t, res.Attendant)
	assert.Equal(t, "att_near", res.Attendant.AttendantID)
	assert.Equal(t, models.StatusAssigned, res.Request.Status)
	require.NotNil(t, res.EstimatedArrival)
	assert.WithinDuration(t, f.now.Add(3*time.Minute), *res.EstimatedArrival, time.Second)
	assert.Equal(t, 1, res.Notified)

	offers := f.hub.sent(fanout.EventSOSAssignment)
	require.Len(t, offers, 1)
	assert.Equal(t, "att_near", offers[0].to)

	status := f.hub.broadcast(fanout.EventStatusUpdate)
	require.Len(t, status, 1)
	assert.Equal(t, "sos_"+res.Request.ID, status[0].to)

	rows, _, err := f.st.ListNotifications(context.Background(), "att_near", store.Page{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Delivered)

	assert.Equal(t, 1.0, f.dispatches("normal", "assigned"))
}

func TestOfflineAttendantIsStillAssigned(t *testing.T) {
	f := newFixture(t, nil)
	testutil.SeedAttendant(t, f.st, "att_1", 3)

	res, err := f.engine.Submit(context.Background(), intake("driver_1"))
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeAssigned, res.Outcome)
	assert.Zero(t, res.Notified)

	rows, _, err := f.st.ListNotifications(context.Background(), "att_1", store.Page{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Delivered)
}

func TestSearchingWhenNobodyEligible(t *testing.T) {
	f := newFixture(t, nil)
	testutil.SeedAttendant(t, f.st, "att_busy", 1, testutil.Unavailable)
	testutil.SeedAttendant(t, f.st, "att_new", 1, testutil.Unverified)
	testutil.SeedAttendant(t, f.st, "att_far", 12)

	res, err := f.engine.Submit(context.Background(), intake("driver_1"))
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSearching, res.Outcome)
	assert.Nil(t, res.Attendant)

	got, err := f.st.GetRequest(context.Background(), res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.AssignedAttendantID)
}

// staleDirectory reports every attendant as available.
type staleDirectory struct{ inner geo.Directory }

func (d staleDirectory) Nearby(ctx context.Context, c models.Location, r float64) ([]models.Attendant, error) {
	out, err := d.inner.Nearby(ctx, c, r)
	for i := range out {
		out[i].IsAvailable = true
		out[i].CurrentSOSRequest = nil
	}
	return out, err
}

func TestFallsBackWhenNearestIsBusy(t *testing.T) {
	f := newFixture(t, func(st *store.Store) geo.Directory {
		return staleDirectory{inner: geo.NewStoreDirectory(st)}
	})
	testutil.SeedAttendant(t, f.st, "att_busy", 0.5, testutil.Unavailable)
	testutil.SeedAttendant(t, f.st, "att_free", 2)

	res, err := f.engine.Submit(context.Background(), intake("driver_1"))
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeAssigned, res.Outcome)
	assert.Equal(t, "att_free", res.Attendant.AttendantID)
}

type downDirectory struct{}

func (downDirectory) Nearby(context.Context, models.Location, float64) ([]models.Attendant, error) {
	return nil, stderrors.New("index offline")
}

func TestDirectoryFailurePropagates(t *testing.T) {
	f := newFixture(t, func(*store.Store) geo.Directory { return downDirectory{} })

	_, err := f.engine.Submit(context.Background(), intake("driver_1"))
	assert.Equal(t, errors.KindDirectoryUnavailable, errors.KindOf(err))
	assert.Equal(t, 1.0, f.dispatches("normal", "error"))
}

func TestCreateValidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	bad := intake("")
	_, err := f.engine.Create(ctx, bad)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	bad = intake("driver_1")
	bad.Location.Latitude = -91
	_, err = f.engine.Create(ctx, bad)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	bad = intake("driver_1")
	bad.Type = models.TypeEmergency
	_, err = f.engine.Create(ctx, bad)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	bad = intake("driver_1")
	bad.Type = "flat_battery"
	_, err = f.engine.Create(ctx, bad)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	em := intake("driver_1")
	em.Priority = models.PriorityEmergency
	em.Type = ""
	req, err := f.engine.Create(ctx, em)
	require.NoError(t, err)
	assert.Equal(t, models.TypeEmergency, req.Type)
}

func emergency(user string) dispatch.Intake {
	in := intake(user)
	in.Priority = models.PriorityEmergency
	return in
}

func TestEmergencyWithNoCandidates(t *testing.T) {
	f := newFixture(t, nil)
	testutil.SeedAttendant(t, f.st, "att_far", 20)

	res, err := f.engine.Submit(context.Background(), emergency("driver_1"))
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeEmergencyFanOut, res.Outcome)
	assert.NotNil(t, res.Assignments)
	assert.Empty(t, res.Assignments)
	assert.True(t, res.NoHelpFound)

	got, err := f.st.GetRequest(context.Background(), res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	require.Len(t, f.hub.broadcast(fanout.EventEmergencyAlert), 1)
	rows, _, err := f.st.ListNotifications(context.Background(), "admins", store.Page{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEmergencyFanOutAndAccept(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i, id := range []string{"att_a", "att_b", "att_c", "att_d"} {
		testutil.SeedAttendant(t, f.st, id, float64(i+1)*2)
		f.hub.online[id] = true
	}

	res, err := f.engine.Submit(ctx, emergency("driver_1"))
	require.NoError(t, err)
	require.Len(t, res.Assignments, 3)
	assert.Equal(t, 3, res.Notified)
	assert.Len(t, f.hub.sent(fanout.EventEmergencyAssignment), 3)

	won, err := f.engine.Accept(ctx, res.Assignments[1].ID, "att_b")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, won.Request.Status)

	claimed := f.hub.sent(fanout.EventAssignmentClaimed)
	require.Len(t, claimed, 2)
	assert.ElementsMatch(t, []string{"att_a", "att_c"}, []string{claimed[0].to, claimed[1].to})

	_, err = f.engine.Accept(ctx, res.Assignments[0].ID, "att_a")
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyClaimed))
}

func TestExpiryJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	testutil.SeedAttendant(t, f.st, "att_a", 1)
	testutil.SeedAttendant(t, f.st, "att_b", 2)
	f.hub.online["att_a"] = true

	res, err := f.engine.Submit(ctx, emergency("driver_1"))
	require.NoError(t, err)
	require.Len(t, res.Assignments, 2)

	n, err := f.engine.ExpireOffers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	offers, err := f.engine.PendingOffers(ctx, "att_b")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, res.Request.ID, offers[0].SOSRequestID)

	f.now = f.now.Add(2 * time.Minute)
	offers, err = f.engine.PendingOffers(ctx, "att_b")
	require.NoError(t, err)
	assert.Empty(t, offers, "past the window before the sweep runs")
	f.engine.ExpiryJob().Run(ctx)

	open, err := f.st.ListAssignments(ctx, res.Request.ID, models.AssignmentPending)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Len(t, f.hub.sent(fanout.EventAssignmentExpired), 1)

	_, err = f.engine.Accept(ctx, res.Assignments[0].ID, "att_a")
	assert.True(t, stderrors.Is(err, errors.ErrAssignmentExpired))
}
