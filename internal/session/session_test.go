// internal/session/session_test.go
package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrsh/pokerroom/internal/engine"
	"github.com/dmitrsh/pokerroom/internal/models"
	"github.com/dmitrsh/pokerroom/internal/room"
)

// memStore is an in-memory room.Snapshots implementation.
type memStore struct {
	mu    sync.Mutex
	rooms map[string]*models.RoomSnapshot
}

func newMemStore() *memStore {
	return &memStore{rooms: make(map[string]*models.RoomSnapshot)}
}

func (m *memStore) Get(_ context.Context, roomID string) (*models.RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID], nil
}

func (m *memStore) Put(_ context.Context, snap *models.RoomSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Normalize()
	m.rooms[snap.ID] = snap
	return nil
}

func (m *memStore) Delete(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	return nil
}

func (m *memStore) ListIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	return out, nil
}

// fakeDB is an in-memory Database implementation that records mutations.
type fakeDB struct {
	mu         sync.Mutex
	rooms      map[string]*models.Room
	users      map[uuid.UUID]*models.User
	statuses   map[string]string
	chipDeltas map[uuid.UUID]int64
	records    []*models.GameRecord
	deleted    []string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		rooms:      make(map[string]*models.Room),
		users:      make(map[uuid.UUID]*models.User),
		statuses:   make(map[string]string),
		chipDeltas: make(map[uuid.UUID]int64),
	}
}

func (f *fakeDB) GetRoom(_ context.Context, id string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[id], nil
}

func (f *fakeDB) CreateRoom(_ context.Context, r *models.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[r.ID] = r
	return nil
}

func (f *fakeDB) UpdateRoomStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	if r, ok := f.rooms[id]; ok {
		r.Status = status
	}
	return nil
}

func (f *fakeDB) DeleteRoomIfWaiting(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok || r.Status != string(models.RoomWaiting) {
		return false, nil
	}
	delete(f.rooms, id)
	f.deleted = append(f.deleted, id)
	return true, nil
}

func (f *fakeDB) ListStaleWaitingRooms(_ context.Context, _ time.Duration) ([]models.Room, error) {
	return nil, nil
}

func (f *fakeDB) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeDB) AdjustUserChips(_ context.Context, id uuid.UUID, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chipDeltas[id] += delta
	return nil
}

func (f *fakeDB) AppendGameRecord(_ context.Context, rec *models.GameRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

// fakePresence is an in-memory PresenceRegistry. conflictErr, when set, is
// returned from the conflict check to drive error-path tests.
type fakePresence struct {
	mu          sync.Mutex
	records     map[uuid.UUID]string
	conflicts   int
	conflictErr error
}

func newFakePresence() *fakePresence {
	return &fakePresence{records: make(map[uuid.UUID]string)}
}

func (f *fakePresence) CurrentRoom(_ context.Context, userID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[userID], nil
}

func (f *fakePresence) SetCurrentRoom(_ context.Context, userID uuid.UUID, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[userID] = roomID
	return nil
}

func (f *fakePresence) ClearCurrentRoom(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, userID)
	return nil
}

func (f *fakePresence) CheckAndHandleConflict(_ context.Context, userID uuid.UUID, targetRoomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictErr != nil {
		return f.conflictErr
	}
	if rec, ok := f.records[userID]; ok && rec != targetRoomID {
		f.conflicts++
		delete(f.records, userID)
	}
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// fixture bundles a fully wired service stack over in-memory stores.
type fixture struct {
	store        *memStore
	db           *fakeDB
	presence     *fakePresence
	hub          *Hub
	cleanup      *Scheduler
	rooms        *RoomService
	orchestrator *Orchestrator
	lifecycle    *Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := quietLogger()
	store := newMemStore()
	locks := room.NewKeyedMutex()
	db := newFakeDB()
	presence := newFakePresence()
	hub, err := NewHub(log)
	require.NoError(t, err)
	t.Cleanup(hub.Shutdown)

	cleanup := NewScheduler(store, locks, db, hub, log, DefaultCleanupDelay)
	cleanup.Start()
	t.Cleanup(cleanup.Stop)

	return &fixture{
		store:        store,
		db:           db,
		presence:     presence,
		hub:          hub,
		cleanup:      cleanup,
		rooms:        NewRoomService(store, locks, presence, db, hub, cleanup, log),
		orchestrator: NewOrchestrator(store, locks, db, hub, log),
		lifecycle:    NewLifecycle(store, locks, presence, hub, cleanup, log),
	}
}

// seedUser registers a user row with a bankroll.
func (fx *fixture) seedUser(name string, chips int64) uuid.UUID {
	id := uuid.New()
	fx.db.users[id] = &models.User{ID: id, Username: name, Chips: chips}
	return id
}

// seedRoom creates a waiting room in both stores.
func (fx *fixture) seedRoom(t *testing.T, maxPlayers int) string {
	t.Helper()
	id := uuid.New().String()
	fx.db.rooms[id] = &models.Room{
		ID:         id,
		MaxPlayers: maxPlayers,
		SmallBlind: 10,
		BigBlind:   20,
		Status:     string(models.RoomWaiting),
	}
	snap := &models.RoomSnapshot{
		ID:         id,
		Status:     models.RoomWaiting,
		MaxPlayers: maxPlayers,
		SmallBlind: 10,
		BigBlind:   20,
	}
	require.NoError(t, fx.store.Put(context.Background(), snap))
	return id
}

func TestJoinSeatsPlayerAndRecordsPresence(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)

	view, err := fx.rooms.Join(ctx, user, roomID, nil)
	require.NoError(t, err)
	require.Equal(t, 1, view.CurrentPlayerCount)
	assert.Equal(t, user, view.OwnerID, "first joiner owns the room")

	snap, _ := fx.store.Get(ctx, roomID)
	pl, _ := snap.FindPlayer(user)
	require.NotNil(t, pl)
	assert.Equal(t, "alice", pl.Username)
	assert.Equal(t, int64(1000), pl.Chips)
	assert.True(t, pl.IsConnected)
	assert.Equal(t, roomID, fx.presence.records[user])
}

func TestJoinUnknownRoom(t *testing.T) {
	fx := newFixture(t)
	user := fx.seedUser("alice", 1000)

	_, err := fx.rooms.Join(context.Background(), user, uuid.New().String(), nil)
	code, _ := CodeOf(err)
	assert.Equal(t, models.CodeRoomNotFound, code)
}

func TestJoinFullRoom(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 2)

	for i := 0; i < 2; i++ {
		u := fx.seedUser("player", 1000)
		_, err := fx.rooms.Join(ctx, u, roomID, nil)
		require.NoError(t, err)
	}
	late := fx.seedUser("late", 1000)
	_, err := fx.rooms.Join(ctx, late, roomID, nil)
	code, _ := CodeOf(err)
	assert.Equal(t, models.CodeRoomFull, code)
}

func TestJoinTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)

	_, err := fx.rooms.Join(ctx, user, roomID, nil)
	require.NoError(t, err)
	view, err := fx.rooms.Join(ctx, user, roomID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, view.CurrentPlayerCount, "rejoin does not duplicate the seat")
}

func TestJoinResolvesPresenceConflict(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	oldRoom := fx.seedRoom(t, 6)
	newRoom := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)

	_, err := fx.rooms.Join(ctx, user, oldRoom, nil)
	require.NoError(t, err)
	_, err = fx.rooms.Join(ctx, user, newRoom, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, fx.presence.conflicts, "stale membership was reconciled")
	assert.Equal(t, newRoom, fx.presence.records[user])
}

func TestJoinRehydratesFromRelationalStore(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	require.NoError(t, fx.store.Delete(ctx, roomID)) // simulate cache expiry

	user := fx.seedUser("alice", 1000)
	view, err := fx.rooms.Join(ctx, user, roomID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, view.CurrentPlayerCount)
	assert.Equal(t, int64(20), view.BigBlind, "blinds come back from the room row")
}

func TestLeaveTransfersOwnership(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	owner := fx.seedUser("owner", 1000)
	heir := fx.seedUser("heir", 1000)
	_, err := fx.rooms.Join(ctx, owner, roomID, nil)
	require.NoError(t, err)
	_, err = fx.rooms.Join(ctx, heir, roomID, nil)
	require.NoError(t, err)

	require.NoError(t, fx.rooms.Leave(ctx, owner, roomID))

	snap, _ := fx.store.Get(ctx, roomID)
	require.NotNil(t, snap)
	assert.Equal(t, heir, snap.OwnerID)
	assert.Equal(t, 1, snap.CurrentPlayerCount)
	assert.Empty(t, fx.presence.records[owner])
}

func TestLastLeaverDeletesRoom(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)
	_, err := fx.rooms.Join(ctx, user, roomID, nil)
	require.NoError(t, err)

	require.NoError(t, fx.rooms.Leave(ctx, user, roomID))

	snap, _ := fx.store.Get(ctx, roomID)
	assert.Nil(t, snap)
	assert.Contains(t, fx.db.deleted, roomID, "waiting room row is removed with the cache entry")
}

func TestLeaveNotAMember(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	member := fx.seedUser("member", 1000)
	_, err := fx.rooms.Join(ctx, member, roomID, nil)
	require.NoError(t, err)

	err = fx.rooms.Leave(ctx, fx.seedUser("outsider", 1000), roomID)
	code, _ := CodeOf(err)
	assert.Equal(t, models.CodePlayerNotInRoom, code)
}

func TestQuickStartCreatesRoomWhenNoneOpen(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	user := fx.seedUser("alice", 1000)

	res, err := fx.rooms.QuickStart(ctx, user)
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.Equal(t, 1, res.Room.CurrentPlayerCount)
	assert.Equal(t, user, res.Room.OwnerID)
	assert.Contains(t, fx.db.rooms, res.Room.ID, "quick start room is backed by a row")
}

func TestQuickStartPrefersOpenRoom(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	existing := fx.seedRoom(t, 6)
	host := fx.seedUser("host", 1000)
	_, err := fx.rooms.Join(ctx, host, existing, nil)
	require.NoError(t, err)

	joiner := fx.seedUser("joiner", 1000)
	res, err := fx.rooms.QuickStart(ctx, joiner)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, existing, res.Room.ID)
	assert.Equal(t, 2, res.Room.CurrentPlayerCount)
}

func readyUp(t *testing.T, fx *fixture, roomID string, users ...uuid.UUID) {
	t.Helper()
	for _, u := range users {
		_, err := fx.orchestrator.ToggleReady(context.Background(), u, roomID)
		require.NoError(t, err)
	}
}

func joinAll(t *testing.T, fx *fixture, roomID string, users ...uuid.UUID) {
	t.Helper()
	for _, u := range users {
		_, err := fx.rooms.Join(context.Background(), u, roomID, nil)
		require.NoError(t, err)
	}
}

func TestAllReadyStartsHand(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	a := fx.seedUser("a", 1000)
	b := fx.seedUser("b", 1000)
	joinAll(t, fx, roomID, a, b)

	readyUp(t, fx, roomID, a)
	snap, _ := fx.store.Get(ctx, roomID)
	assert.False(t, snap.GameStarted, "one ready player is not enough")

	readyUp(t, fx, roomID, b)
	snap, _ = fx.store.Get(ctx, roomID)
	require.True(t, snap.GameStarted)
	assert.Equal(t, models.RoomPlaying, snap.Status)
	require.NotNil(t, snap.Game)
	assert.NotEqual(t, uuid.Nil, snap.Game.CurrentTurnPlayerID())
	assert.Equal(t, string(models.RoomPlaying), fx.db.statuses[roomID])
}

func TestReadyAloneCannotStart(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	solo := fx.seedUser("solo", 1000)
	joinAll(t, fx, roomID, solo)

	readyUp(t, fx, roomID, solo)
	snap, _ := fx.store.Get(ctx, roomID)
	assert.False(t, snap.GameStarted)
}

func TestReadyRejectedMidHand(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	a := fx.seedUser("a", 1000)
	b := fx.seedUser("b", 1000)
	joinAll(t, fx, roomID, a, b)
	readyUp(t, fx, roomID, a, b)

	_, err := fx.orchestrator.ToggleReady(ctx, a, roomID)
	code, _ := CodeOf(err)
	assert.Equal(t, models.CodeInvalidAction, code)
}

func TestExecuteActionRejectsOutOfTurn(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	a := fx.seedUser("a", 1000)
	b := fx.seedUser("b", 1000)
	joinAll(t, fx, roomID, a, b)
	readyUp(t, fx, roomID, a, b)

	snap, _ := fx.store.Get(ctx, roomID)
	turn := snap.Game.CurrentTurnPlayerID()
	notTurn := a
	if notTurn == turn {
		notTurn = b
	}
	_, err := fx.orchestrator.ExecuteAction(ctx, notTurn, roomID, models.PlayerAction{Type: "fold"})
	code, _ := CodeOf(err)
	assert.Equal(t, models.CodeNotPlayerTurn, code)
}

func TestFoldSettlesHandAndResetsRoom(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	a := fx.seedUser("a", 1000)
	b := fx.seedUser("b", 1000)
	joinAll(t, fx, roomID, a, b)
	readyUp(t, fx, roomID, a, b)

	snap, _ := fx.store.Get(ctx, roomID)
	turn := snap.Game.CurrentTurnPlayerID()
	outcome, err := fx.orchestrator.ExecuteAction(ctx, turn, roomID, models.PlayerAction{Type: "fold"})
	require.NoError(t, err)
	require.NotNil(t, outcome.GameState)
	assert.True(t, outcome.GameState.HandOver)

	// net deltas balance and the hand was recorded
	var sum int64
	for _, d := range fx.db.chipDeltas {
		sum += d
	}
	assert.Zero(t, sum, "chips settle to a zero-sum delta")
	require.Len(t, fx.db.records, 1)
	assert.Equal(t, roomID, fx.db.records[0].RoomID)

	// the room is back to waiting with ready flags cleared
	snap, _ = fx.store.Get(ctx, roomID)
	assert.False(t, snap.GameStarted)
	assert.Nil(t, snap.Game)
	assert.Equal(t, models.RoomWaiting, snap.Status)
	for _, p := range snap.Players {
		assert.False(t, p.IsReady)
	}
	// seat chips track the settled stacks
	for _, p := range snap.Players {
		assert.Equal(t, int64(1000)+fx.db.chipDeltas[p.ID], p.Chips)
	}
}

func TestRestartIsOwnerOnly(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	owner := fx.seedUser("owner", 1000)
	guest := fx.seedUser("guest", 1000)
	joinAll(t, fx, roomID, owner, guest)

	_, err := fx.orchestrator.Restart(ctx, guest, roomID)
	code, _ := CodeOf(err)
	assert.Equal(t, models.CodeRoomAccessDenied, code)

	_, err = fx.orchestrator.Restart(ctx, owner, roomID)
	assert.NoError(t, err)
}

func TestRestartAbandonsLiveHand(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	owner := fx.seedUser("owner", 1000)
	guest := fx.seedUser("guest", 1000)
	joinAll(t, fx, roomID, owner, guest)
	readyUp(t, fx, roomID, owner, guest)

	snap, _ := fx.store.Get(ctx, roomID)
	require.True(t, snap.GameStarted, "hand is live before the restart")

	_, err := fx.orchestrator.Restart(ctx, owner, roomID)
	require.NoError(t, err)

	snap, _ = fx.store.Get(ctx, roomID)
	assert.False(t, snap.GameStarted)
	assert.Nil(t, snap.Game)
	assert.Equal(t, models.RoomWaiting, snap.Status)
}

func TestBlindsAllInSettlesOnStart(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	a := fx.seedUser("shorty", 5)
	b := fx.seedUser("shortstack", 8)
	joinAll(t, fx, roomID, a, b)
	readyUp(t, fx, roomID, a, b)

	snap, _ := fx.store.Get(ctx, roomID)
	require.NotNil(t, snap)
	assert.False(t, snap.GameStarted, "a dealt-out hand settles on the spot")
	assert.Nil(t, snap.Game)
	assert.Equal(t, models.RoomWaiting, snap.Status)

	require.Len(t, fx.db.records, 1)
	assert.Equal(t, int64(13), fx.db.records[0].Pot)

	var net int64
	for _, d := range fx.db.chipDeltas {
		net += d
	}
	assert.Zero(t, net, "settlement is zero-sum")
}

func TestDisconnectKeepsSeatAndSchedulesCleanup(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)
	joinAll(t, fx, roomID, user)

	fx.lifecycle.HandleDisconnect(ctx, user)

	snap, _ := fx.store.Get(ctx, roomID)
	pl, _ := snap.FindPlayer(user)
	require.NotNil(t, pl, "the seat survives the disconnect")
	assert.False(t, pl.IsConnected)

	fx.cleanup.mu.Lock()
	_, scheduled := fx.cleanup.entries[roomID]
	fx.cleanup.mu.Unlock()
	assert.True(t, scheduled, "an empty room gets a destruction timer")
}

func TestDisconnectWithOthersConnectedDoesNotSchedule(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	a := fx.seedUser("a", 1000)
	b := fx.seedUser("b", 1000)
	joinAll(t, fx, roomID, a, b)

	fx.lifecycle.HandleDisconnect(ctx, a)

	fx.cleanup.mu.Lock()
	_, scheduled := fx.cleanup.entries[roomID]
	fx.cleanup.mu.Unlock()
	assert.False(t, scheduled)
}

func TestDisconnectWithExpiredPresenceUsesHubBinding(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)
	conn := NewConn(user, "alice", func() {}, quietLogger())
	fx.hub.Register(conn)
	joinAll(t, fx, roomID, user)

	// the presence record has lapsed on its own TTL mid-session
	require.NoError(t, fx.presence.ClearCurrentRoom(ctx, user))

	fx.lifecycle.HandleDisconnect(ctx, user)

	snap, _ := fx.store.Get(ctx, roomID)
	pl, _ := snap.FindPlayer(user)
	require.NotNil(t, pl)
	assert.False(t, pl.IsConnected, "hub binding still identifies the room")

	fx.cleanup.mu.Lock()
	_, scheduled := fx.cleanup.entries[roomID]
	fx.cleanup.mu.Unlock()
	assert.True(t, scheduled)
}

func TestJoinWhileSeatedInLiveHandIsRejected(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)
	fx.presence.conflictErr = room.ErrLiveHand

	_, err := fx.rooms.Join(ctx, user, roomID, nil)
	code, _ := CodeOf(err)
	assert.Equal(t, models.CodeAlreadyInRoom, code)
}

func TestReconnectRestoresSeatAndCancelsCleanup(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)
	joinAll(t, fx, roomID, user)
	fx.lifecycle.HandleDisconnect(ctx, user)

	info, err := fx.lifecycle.HandleReconnect(ctx, user, roomID)
	require.NoError(t, err)
	assert.Equal(t, roomID, info.RoomID)
	require.NotNil(t, info.Room)

	snap, _ := fx.store.Get(ctx, roomID)
	pl, _ := snap.FindPlayer(user)
	assert.True(t, pl.IsConnected)

	fx.cleanup.mu.Lock()
	_, scheduled := fx.cleanup.entries[roomID]
	fx.cleanup.mu.Unlock()
	assert.False(t, scheduled, "reconnect cancels the destruction timer")
}

func TestReconnectWithoutRecordIsEmptyAck(t *testing.T) {
	fx := newFixture(t)
	info, err := fx.lifecycle.HandleReconnect(context.Background(), uuid.New(), "")
	require.NoError(t, err)
	assert.Empty(t, info.RoomID)
	assert.Nil(t, info.Room)
}

func TestReconnectToRoomWithoutSeatIsDenied(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	homeRoom := fx.seedRoom(t, 6)
	otherRoom := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)
	other := fx.seedUser("bob", 1000)
	joinAll(t, fx, homeRoom, user)
	joinAll(t, fx, otherRoom, other)

	_, err := fx.lifecycle.HandleReconnect(ctx, user, otherRoom)
	code, _ := CodeOf(err)
	assert.Equal(t, models.CodeRoomAccessDenied, code)
	assert.Equal(t, 1, fx.presence.conflicts, "stale registry room is force-resolved first")
	assert.Empty(t, fx.presence.records[user])
}

func TestReconnectToDeadRoomClearsPresence(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	user := fx.seedUser("alice", 1000)
	ghost := uuid.New().String()
	require.NoError(t, fx.presence.SetCurrentRoom(ctx, user, ghost))

	_, err := fx.lifecycle.HandleReconnect(ctx, user, ghost)
	code, _ := CodeOf(err)
	assert.Equal(t, models.CodeRoomNotFound, code)
	assert.Empty(t, fx.presence.records[user])
}

func TestPerformCleanupReclaimsEmptyRoom(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)
	joinAll(t, fx, roomID, user)
	fx.lifecycle.HandleDisconnect(ctx, user)

	require.NoError(t, fx.cleanup.PerformCleanup(ctx, roomID))

	snap, _ := fx.store.Get(ctx, roomID)
	assert.Nil(t, snap, "cache entry is gone")
	assert.Contains(t, fx.db.deleted, roomID, "waiting row is gone")
}

func TestPerformCleanupAbortsWhenOccupied(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)
	joinAll(t, fx, roomID, user)

	require.NoError(t, fx.cleanup.PerformCleanup(ctx, roomID))

	snap, _ := fx.store.Get(ctx, roomID)
	assert.NotNil(t, snap, "a room with connected players is spared")
}

func TestCleanupNeverDeletesPlayingRow(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	fx.db.rooms[roomID].Status = string(models.RoomPlaying)

	require.NoError(t, fx.cleanup.PerformCleanup(ctx, roomID))
	assert.NotContains(t, fx.db.deleted, roomID, "only WAITING rows are reclaimed")
}

func TestScanAndCleanupReport(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// one empty room, one occupied
	empty := fx.seedRoom(t, 6)
	occupied := fx.seedRoom(t, 6)
	user := fx.seedUser("alice", 1000)
	joinAll(t, fx, occupied, user)

	report := fx.cleanup.ScanAndCleanup(ctx)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Reclaimed)
	assert.Empty(t, report.Errors)

	snap, _ := fx.store.Get(ctx, empty)
	assert.Nil(t, snap)
	snap, _ = fx.store.Get(ctx, occupied)
	assert.NotNil(t, snap)
}

func TestSeatCountInvariantHolds(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	users := []uuid.UUID{
		fx.seedUser("a", 1000),
		fx.seedUser("b", 1000),
		fx.seedUser("c", 1000),
	}
	joinAll(t, fx, roomID, users...)

	snap, _ := fx.store.Get(ctx, roomID)
	require.Equal(t, len(snap.Players), snap.CurrentPlayerCount)

	require.NoError(t, fx.rooms.Leave(ctx, users[1], roomID))
	snap, _ = fx.store.Get(ctx, roomID)
	require.Equal(t, len(snap.Players), snap.CurrentPlayerCount)
	for i, p := range snap.Players {
		assert.Equal(t, i, p.Position, "positions stay contiguous after a leave")
	}
}

// engine sanity through the orchestrator: a full hand of checks reaches
// showdown and pays the pot out.
func TestHandPlayedThroughOrchestratorSettles(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	roomID := fx.seedRoom(t, 6)
	a := fx.seedUser("a", 1000)
	b := fx.seedUser("b", 1000)
	joinAll(t, fx, roomID, a, b)
	readyUp(t, fx, roomID, a, b)

	for i := 0; i < 20; i++ {
		snap, _ := fx.store.Get(ctx, roomID)
		if snap.Game == nil {
			break
		}
		turn := snap.Game.CurrentTurnPlayerID()
		require.NotEqual(t, uuid.Nil, turn)

		g, err := engine.Restore(snap.Game)
		require.NoError(t, err)
		actions := g.LegalActions(turn)
		act := models.PlayerAction{Type: "check"}
		if !containsAction(actions, engine.ActionCheck) {
			act = models.PlayerAction{Type: "call"}
		}
		_, err = fx.orchestrator.ExecuteAction(ctx, turn, roomID, act)
		require.NoError(t, err)
	}

	snap, _ := fx.store.Get(ctx, roomID)
	assert.Nil(t, snap.Game, "hand finished and the room reset")
	require.Len(t, fx.db.records, 1)
	assert.Equal(t, int64(40), fx.db.records[0].Pot, "both blinds called to 20 each")
}

func containsAction(actions []engine.ActionType, want engine.ActionType) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}
