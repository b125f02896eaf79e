package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat-service/internal/models"
)

func newTestTimeline() (*Timeline, *time.Time) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline()
	tl.now = func() time.Time { return now }
	return tl, &now
}

func confirmed(id, body string, role models.Role, clientID string, at time.Time) models.Message {
	return models.Message{ID: id, Body: body, SenderRole: role, ClientID: clientID, CreatedAt: at}
}

func bodies(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Body)
	}
	return out
}

func TestConfirmReplacesProvisionalByClientID(t *testing.T) {
	tl, now := newTestTimeline()
	p := tl.AddProvisional("A", models.RoleCustomer)
	assert.Equal(t, "temp-1", p.ID)
	assert.Equal(t, StatePending, p.State)
	require.NotEmpty(t, p.ClientID)

	tl.Confirm(confirmed("m1", "A", models.RoleCustomer, p.ClientID, *now))

	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, StateConfirmed, entries[0].State)
	assert.Equal(t, 0, tl.Pending())
}

func TestConfirmIgnoresDuplicateBroadcast(t *testing.T) {
	tl, now := newTestTimeline()
	p := tl.AddProvisional("A", models.RoleCustomer)
	msg := confirmed("m1", "A", models.RoleCustomer, p.ClientID, *now)

	tl.Confirm(msg)
	tl.Confirm(msg)

	assert.Equal(t, []string{"A"}, bodies(tl.Entries()))
}

func TestIdenticalRapidSendsMatchTheirOwnConfirmations(t *testing.T) {
	tl, now := newTestTimeline()
	first := tl.AddProvisional("ok", models.RoleCustomer)
	second := tl.AddProvisional("ok", models.RoleCustomer)

	tl.Confirm(confirmed("m2", "ok", models.RoleCustomer, second.ClientID, now.Add(time.Millisecond)))

	entries := tl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, StatePending, entries[0].State)
	assert.Equal(t, "m2", entries[1].ID)
}

func TestConfirmFallsBackToBodyAndRole(t *testing.T) {
	tl, now := newTestTimeline()
	tl.AddProvisional("hi", models.RoleCustomer)

	tl.Confirm(confirmed("m1", "hi", models.RoleAdmin, "", *now))
	tl.Confirm(confirmed("m2", "hi", models.RoleCustomer, "", *now))

	entries := tl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "m2", entries[0].ID)
	assert.Equal(t, "m1", entries[1].ID)
}

func TestForeignClientIDDoesNotStealProvisional(t *testing.T) {
	tl, now := newTestTimeline()
	p := tl.AddProvisional("same", models.RoleCustomer)

	tl.Confirm(confirmed("m9", "same", models.RoleCustomer, "other-tab", *now))

	entries := tl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, p.ID, entries[0].ID)
	assert.Equal(t, StatePending, entries[0].State)
}

func TestRejectAndExpireSettleEverySend(t *testing.T) {
	tl, now := newTestTimeline()
	rejected := tl.AddProvisional("", models.RoleCustomer)
	slow := tl.AddProvisional("slow", models.RoleCustomer)

	assert.True(t, tl.Reject(rejected.ClientID, "message is required"))
	assert.False(t, tl.Reject(rejected.ClientID, "again"))

	*now = now.Add(time.Minute)
	assert.Equal(t, 0, tl.Expire(2*time.Minute))
	assert.Equal(t, 1, tl.Expire(30*time.Second))

	entries := tl.Entries()
	assert.Equal(t, StateFailed, entries[0].State)
	assert.Equal(t, "message is required", entries[0].Error)
	assert.Equal(t, StateFailed, entries[1].State)
	assert.Equal(t, 0, tl.Pending())

	tl.Confirm(confirmed("m5", "slow", models.RoleCustomer, slow.ClientID, *now))
	assert.Equal(t, StateConfirmed, tl.Entries()[1].State)
}

func TestLoadKeepsUnconfirmedEntries(t *testing.T) {
	tl, now := newTestTimeline()
	tl.Confirm(confirmed("old", "stale", models.RoleCustomer, "", *now))
	landed := tl.AddProvisional("landed", models.RoleCustomer)
	waiting := tl.AddProvisional("waiting", models.RoleCustomer)

	tl.Load([]models.Message{
		confirmed("m2", "landed", models.RoleCustomer, landed.ClientID, now.Add(2*time.Millisecond)),
		confirmed("m1", "first", models.RoleAdmin, "", now.Add(time.Millisecond)),
	})

	assert.Equal(t, []string{"first", "landed", "waiting"}, bodies(tl.Entries()))
	assert.Equal(t, waiting.ID, tl.Entries()[2].ID)
	assert.Equal(t, 1, tl.Pending())
}

func TestRemoveAndRestoreKeepOrder(t *testing.T) {
	tl, now := newTestTimeline()
	a := confirmed("a", "A", models.RoleCustomer, "", *now)
	b := confirmed("b", "B", models.RoleAdmin, "", now.Add(time.Millisecond))
	c := confirmed("c", "C", models.RoleCustomer, "", now.Add(2*time.Millisecond))
	tl.Load([]models.Message{a, b, c})
	tl.AddProvisional("D", models.RoleCustomer)

	assert.True(t, tl.Remove("b"))
	assert.False(t, tl.Remove("b"))
	assert.Equal(t, []string{"A", "C", "D"}, bodies(tl.Entries()))

	tl.Restore(b)
	tl.Restore(b)
	assert.Equal(t, []string{"A", "B", "C", "D"}, bodies(tl.Entries()))
}
