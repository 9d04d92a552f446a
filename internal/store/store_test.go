// ABOUTME: Tests for the SQLite store: agents, challenges, sessions, audit
// ABOUTME: Covers single-use challenge consumption and refresh rotation under concurrency

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// newFileStore opens a file-backed store, which unlike :memory: exercises
// real writer contention across pooled connections.
func newFileStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testAgent(name string) *AgentIdentity {
	return &AgentIdentity{
		ID:         "agt_" + uuid.NewString(),
		Name:       name,
		PublicKey:  "aa11bb22cc33dd44ee55ff66aa77bb88cc99dd00ee11ff22aa33bb44cc55dd66",
		Roles:      []string{"worker"},
		Hostname:   "node-1",
		Region:     "eu-west",
		EnrolledAt: time.Now(),
	}
}

func testChallenge(name string, ttl time.Duration) *Challenge {
	now := time.Now()
	return &Challenge{
		ID:        "ch_" + uuid.NewString(),
		AgentName: name,
		PublicKey: "aa11bb22cc33dd44ee55ff66aa77bb88cc99dd00ee11ff22aa33bb44cc55dd66",
		Roles:     []string{"worker"},
		Nonce:     "deadbeef",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestAgents_CreateAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("nano-1")
	require.NoError(t, st.CreateAgent(ctx, agent))

	got, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.Name, got.Name)
	assert.Equal(t, agent.PublicKey, got.PublicKey)
	assert.Equal(t, agent.Roles, got.Roles)
	assert.True(t, got.Active())

	byName, err := st.GetAgentByName(ctx, "nano-1")
	require.NoError(t, err)
	assert.Equal(t, agent.ID, byName.ID)
}

func TestAgents_NameUnique(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateAgent(ctx, testAgent("dup")))

	err := st.CreateAgent(ctx, testAgent("dup"))
	assert.ErrorIs(t, err, ErrAgentNameExists)
}

func TestAgents_NotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetAgent(ctx, "agt_missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = st.GetAgentByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestAgents_Deactivate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("nano-2")
	require.NoError(t, st.CreateAgent(ctx, agent))
	require.NoError(t, st.DeactivateAgent(ctx, agent.ID))

	got, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.False(t, got.Active())
	require.NotNil(t, got.DeactivatedAt)

	// Second deactivation matches nothing.
	err = st.DeactivateAgent(ctx, agent.ID)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestChallenges_ConsumeOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ch := testChallenge("nano-3", time.Minute)
	require.NoError(t, st.CreateChallenge(ctx, ch))

	require.NoError(t, st.ConsumeChallenge(ctx, ch.ID))

	err := st.ConsumeChallenge(ctx, ch.ID)
	assert.ErrorIs(t, err, ErrChallengeConsumed)

	got, err := st.GetChallenge(ctx, ch.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ConsumedAt)
}

func TestChallenges_ConsumeExpired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ch := testChallenge("nano-4", -time.Minute)
	require.NoError(t, st.CreateChallenge(ctx, ch))

	err := st.ConsumeChallenge(ctx, ch.ID)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestChallenges_ConsumeMissing(t *testing.T) {
	st := newTestStore(t)

	err := st.ConsumeChallenge(context.Background(), "ch_missing")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestChallenges_ConcurrentConsumeExactlyOneWinner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ch := testChallenge("nano-5", time.Minute)
	require.NoError(t, st.CreateChallenge(ctx, ch))

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- st.ConsumeChallenge(ctx, ch.ID)
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrChallengeConsumed)
		}
	}
	assert.Equal(t, 1, winners, "exactly one consumer must win")
}

func TestChallenges_ConcurrentConsumeOnDisk(t *testing.T) {
	st := newFileStore(t)
	ctx := context.Background()

	ch := testChallenge("nano-disk", time.Minute)
	require.NoError(t, st.CreateChallenge(ctx, ch))

	// Pooled connections contend on the file lock; losers must still come
	// back as ErrChallengeConsumed, never as a busy-database error.
	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- st.ConsumeChallenge(ctx, ch.ID)
		}()
	}
	wg.Wait()
	close(results)

	winners, losers := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrChallengeConsumed):
			losers++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, losers)
}

func TestChallenges_DeleteExpired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateChallenge(ctx, testChallenge("old", -time.Minute)))
	live := testChallenge("live", time.Minute)
	require.NoError(t, st.CreateChallenge(ctx, live))

	n, err := st.DeleteExpiredChallenges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.GetChallenge(ctx, live.ID)
	assert.NoError(t, err)
}

func testSession(agentID, hash string) *Session {
	now := time.Now()
	return &Session{
		ID:               "ses_" + uuid.NewString(),
		AgentID:          agentID,
		RefreshHash:      hash,
		IssuedAt:         now,
		AccessExpiresAt:  now.Add(15 * time.Minute),
		RefreshExpiresAt: now.Add(30 * 24 * time.Hour),
	}
}

func TestSessions_CreateAndLookup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("nano-6")
	require.NoError(t, st.CreateAgent(ctx, agent))

	ses := testSession(agent.ID, "hash-a")
	require.NoError(t, st.CreateSession(ctx, ses))

	got, err := st.GetSession(ctx, ses.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.AgentID)
	assert.False(t, got.Revoked)

	byHash, err := st.GetSessionByRefreshHash(ctx, "hash-a")
	require.NoError(t, err)
	assert.Equal(t, ses.ID, byHash.ID)
}

func TestSessions_RotateReplacesHash(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("nano-7")
	require.NoError(t, st.CreateAgent(ctx, agent))
	ses := testSession(agent.ID, "hash-old")
	require.NoError(t, st.CreateSession(ctx, ses))

	newAccess := time.Now().Add(15 * time.Minute)
	newRefresh := time.Now().Add(30 * 24 * time.Hour)
	require.NoError(t, st.RotateSession(ctx, ses.ID, "hash-old", "hash-new", newAccess, newRefresh))

	_, err := st.GetSessionByRefreshHash(ctx, "hash-old")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	got, err := st.GetSessionByRefreshHash(ctx, "hash-new")
	require.NoError(t, err)
	assert.Equal(t, ses.ID, got.ID)
	assert.NotNil(t, got.RotatedAt)
}

func TestSessions_RotateStaleHashFails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("nano-8")
	require.NoError(t, st.CreateAgent(ctx, agent))
	ses := testSession(agent.ID, "hash-1")
	require.NoError(t, st.CreateSession(ctx, ses))

	exp := time.Now().Add(time.Hour)
	require.NoError(t, st.RotateSession(ctx, ses.ID, "hash-1", "hash-2", exp, exp))

	// Replaying the old hash must not rotate again.
	err := st.RotateSession(ctx, ses.ID, "hash-1", "hash-3", exp, exp)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessions_ConcurrentRotationSingleWinner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("nano-9")
	require.NoError(t, st.CreateAgent(ctx, agent))
	ses := testSession(agent.ID, "hash-race")
	require.NoError(t, st.CreateSession(ctx, ses))

	exp := time.Now().Add(time.Hour)
	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results <- st.RotateSession(ctx, ses.ID, "hash-race", uuid.NewString(), exp, exp)
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestSessions_RevokedSessionCannotRotate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("nano-10")
	require.NoError(t, st.CreateAgent(ctx, agent))
	ses := testSession(agent.ID, "hash-r")
	require.NoError(t, st.CreateSession(ctx, ses))
	require.NoError(t, st.RevokeSession(ctx, ses.ID))

	exp := time.Now().Add(time.Hour)
	err := st.RotateSession(ctx, ses.ID, "hash-r", "hash-r2", exp, exp)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	got, err := st.GetSession(ctx, ses.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
}

func TestAudit_AppendAndList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendAudit(ctx, &AuditEntry{
		EventType: "enrollment.request",
		Action:    "enrollment requested for agent \"nano\"",
		IPAddress: "10.0.0.9",
		Detail:    map[string]any{"challenge_id": "ch_x"},
	}))

	entries, err := st.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "enrollment.request", entries[0].EventType)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, "ch_x", entries[0].Detail["challenge_id"])
}
