package fanout_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"FuelSOS/internal/fanout"
	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	to, event string
	payload   interface{}
}

type fakeTransport struct {
	mu     sync.Mutex
	online map[string]bool
	sends  []sent
	groups []sent
}

func (f *fakeTransport) IsOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeTransport) Send(userID, event string, payload interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sent{userID, event, payload})
	return true
}

func (f *fakeTransport) BroadcastToGroup(group, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, sent{group, event, payload})
}

func notifications(t *testing.T, st *store.Store, recipient string) []models.Notification {
	t.Helper()
	out, _, err := st.ListNotifications(context.Background(), recipient, store.Page{Limit: 100})
	require.NoError(t, err)
	return out
}

func TestNotifyOnlineAndOffline(t *testing.T) {
	st := testutil.NewStore(t)
	tr := &fakeTransport{online: map[string]bool{"att_on": true}}
	n := fanout.NewNotifier(tr, st, nil)
	ctx := context.Background()

	assert.True(t, n.Notify(ctx, fanout.Message{RecipientID: "att_on", RequestID: "sos_1", Event: fanout.EventSOSAssignment}))
	assert.False(t, n.Notify(ctx, fanout.Message{RecipientID: "att_off", RequestID: "sos_1", Event: fanout.EventSOSAssignment}))

	require.Len(t, tr.sends, 1)
	assert.Equal(t, "att_on", tr.sends[0].to)

	on := notifications(t, st, "att_on")
	require.Len(t, on, 1)
	assert.True(t, on[0].Delivered)
	assert.Equal(t, "sos_1", on[0].SOSRequestID)

	off := notifications(t, st, "att_off")
	require.Len(t, off, 1)
	assert.False(t, off[0].Delivered)
}

func TestNotifyAllHonoursGuard(t *testing.T) {
	st := testutil.NewStore(t)
	tr := &fakeTransport{online: map[string]bool{"a": true, "b": true, "c": true}}
	n := fanout.NewNotifier(tr, st, nil)

	msgs := []fanout.Message{
		{RecipientID: "a", Event: fanout.EventEmergencyAssignment},
		{RecipientID: "b", Event: fanout.EventEmergencyAssignment},
		{RecipientID: "c", Event: fanout.EventEmergencyAssignment},
	}
	res := n.NotifyAll(context.Background(), msgs, nil)
	assert.Equal(t, []bool{true, true, true}, res)

	var calls atomic.Int32
	res = n.NotifyAll(context.Background(), msgs, func(context.Context) bool {
		calls.Add(1)
		return false
	})
	assert.Equal(t, []bool{false, false, false}, res)
	assert.EqualValues(t, 3, calls.Load())
	assert.Len(t, tr.sends, 3)
	assert.Len(t, notifications(t, st, "a"), 1)
}

func TestPublishStatus(t *testing.T) {
	st := testutil.NewStore(t)
	tr := &fakeTransport{}
	n := fanout.NewNotifier(tr, st, nil)
	req := testutil.SeedRequest(t, st, "driver_1", models.PriorityNormal)

	n.PublishStatus(context.Background(), req)
	require.Len(t, tr.groups, 1)
	assert.Equal(t, "sos_"+req.ID, tr.groups[0].to)
	assert.Equal(t, fanout.EventStatusUpdate, tr.groups[0].event)
	p := tr.groups[0].payload.(fanout.StatusPayload)
	assert.Equal(t, models.StatusPending, p.Status)
}

func TestMirrorCopiesGroupBroadcasts(t *testing.T) {
	st := testutil.NewStore(t)
	primary := &fakeTransport{online: map[string]bool{"driver_1": true}}
	sink := &fakeTransport{}
	n := fanout.NewNotifier(fanout.Mirror{Transport: primary, Sinks: []fanout.GroupSink{sink}}, st, nil)
	ctx := context.Background()

	req := testutil.SeedRequest(t, st, "driver_1", models.PriorityNormal)
	n.PublishStatus(ctx, req)
	require.Len(t, primary.groups, 1)
	require.Len(t, sink.groups, 1)
	assert.Equal(t, "sos_"+req.ID, sink.groups[0].to)
	assert.Equal(t, fanout.EventStatusUpdate, sink.groups[0].event)

	assert.True(t, n.Notify(ctx, fanout.Message{RecipientID: "driver_1", Event: fanout.EventStatusUpdate}))
	assert.Len(t, primary.sends, 1)
	assert.Empty(t, sink.sends)

	bare := fanout.Mirror{Sinks: []fanout.GroupSink{sink}}
	assert.False(t, bare.IsOnline("driver_1"))
	assert.False(t, bare.Send("driver_1", "x", nil))
	bare.BroadcastToGroup("g", "x", nil)
	assert.Len(t, sink.groups, 2)
}
