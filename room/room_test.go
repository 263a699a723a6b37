package room

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/cardduel/catalog"
	"github.com/wfunc/cardduel/models"
	"github.com/wfunc/cardduel/network"
	"github.com/wfunc/cardduel/session"
	"github.com/wfunc/cardduel/state"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	closeErr error
}

func (m *MockConnection) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return network.ErrConnectionClosed
	}
	m.frames = append(m.frames, data)
	return nil
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

func (m *MockConnection) RemoteAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}
func (m *MockConnection) ReadMessage() ([]byte, error)        { return nil, io.EOF }

func (m *MockConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Events decodes every frame written so far.
func (m *MockConnection) Events(t *testing.T) []network.Event {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := make([]network.Event, 0, len(m.frames))
	for _, f := range m.frames {
		ev, err := network.DecodeEvent(f)
		require.NoError(t, err)
		evs = append(evs, ev)
	}
	return evs
}

func (m *MockConnection) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
}

// MockBroadcaster delivers through the session manager like the real broadcaster.
type MockBroadcaster struct {
	rooms    *Manager
	sessions *session.Manager
}

func (b *MockBroadcaster) BroadcastToRoom(roomID string, ev network.Event) error {
	r, ok := b.rooms.GetRoom(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	for _, s := range r.GetSessions() {
		_ = s.Send(ev)
	}
	return nil
}

func (b *MockBroadcaster) SendToSession(sessionID string, ev network.Event) error {
	s, ok := b.sessions.Get(sessionID)
	if !ok {
		return io.ErrClosedPipe
	}
	return s.Send(ev)
}

func (b *MockBroadcaster) BroadcastToAll(ev network.Event) error {
	for _, s := range b.sessions.All() {
		_ = s.Send(ev)
	}
	return nil
}

// fakeScheduler only fires when the test says so.
type fakeScheduler struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]fakeTask
}

type fakeTask struct {
	delay time.Duration
	cb    func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[int64]fakeTask)}
}

func (f *fakeScheduler) AddTimer(delay, interval time.Duration, cb func()) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.tasks[f.nextID] = fakeTask{delay: delay, cb: cb}
	return f.nextID
}

func (f *fakeScheduler) RemoveTimer(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[id]
	delete(f.tasks, id)
	return ok
}

// fire runs every pending callback scheduled with delay.
func (f *fakeScheduler) fire(delay time.Duration) int {
	f.mu.Lock()
	var cbs []func()
	for id, task := range f.tasks {
		if task.delay == delay {
			cbs = append(cbs, task.cb)
			delete(f.tasks, id)
		}
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return len(cbs)
}

func (f *fakeScheduler) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []models.MatchRecord
}

func (r *fakeRecorder) Record(rec models.MatchRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

const (
	turnTimeout  = 30 * time.Second
	newTurnDelay = 2 * time.Second
)

type harness struct {
	t        *testing.T
	m        *Manager
	sessions *session.Manager
	sched    *fakeScheduler
	rec      *fakeRecorder
	nextConn int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	sessions := session.NewManager()
	sched := newFakeScheduler()
	m := NewRoomManager(cat, sessions, sched, Options{
		Timing:          state.Timing{TurnTimeout: turnTimeout, NewTurnDelay: newTurnDelay},
		DefaultMaxTurns: 15,
		MaxTurnsLimit:   50,
		IdleTimeout:     10 * time.Minute,
	})
	m.SetBroadcaster(&MockBroadcaster{rooms: m, sessions: sessions})
	m.SetSecretPicker(func(c *catalog.Catalog) catalog.Item { return c.MustLookup("Giant") })

	rec := &fakeRecorder{}
	m.SetRecorder(rec)

	return &harness{t: t, m: m, sessions: sessions, sched: sched, rec: rec}
}

func (h *harness) create(settings models.Settings) string {
	h.t.Helper()
	settings, err := h.m.NormalizeSettings(settings)
	require.NoError(h.t, err)
	code, err := h.m.createRoom(settings)
	require.NoError(h.t, err)
	return code
}

func (h *harness) connect() (*session.Session, *MockConnection) {
	h.nextConn++
	conn := &MockConnection{}
	s := session.NewSession(string(rune('a'+h.nextConn))+"-session", conn)
	h.sessions.Add(s)
	return s, conn
}

func (h *harness) send(s *session.Session, cmd network.Command) {
	h.m.handle(commandEvent{session: s, cmd: cmd, received: time.Now()})
}

func (h *harness) disconnect(s *session.Session) {
	h.m.handle(disconnectEvent{session: s})
	h.sessions.Remove(s.ID)
}

// drain handles everything posted to the loop, e.g. by fired timers.
func (h *harness) drain() {
	for {
		select {
		case ev := <-h.m.events:
			h.m.handle(ev)
		default:
			return
		}
	}
}

func (h *harness) fire(delay time.Duration) {
	h.t.Helper()
	require.Positive(h.t, h.sched.fire(delay), "no timer with delay %v", delay)
	h.drain()
}

// seated creates a room and seats host and challenger in it.
func (h *harness) seated(settings models.Settings) (code string, host, chal *session.Session, hc, cc *MockConnection) {
	code = h.create(settings)
	host, hc = h.connect()
	chal, cc = h.connect()
	h.send(host, network.Join{RoomCode: code})
	h.send(chal, network.Join{RoomCode: code})
	return
}

// playing returns a room that has just started.
func (h *harness) playing(settings models.Settings) (code string, host, chal *session.Session, hc, cc *MockConnection) {
	code, host, chal, hc, cc = h.seated(settings)
	h.send(host, network.ToggleReady{})
	h.send(chal, network.ToggleReady{})
	r, ok := h.m.GetRoom(code)
	require.True(h.t, ok)
	require.Equal(h.t, state.StatePlaying, r.Status())
	hc.Reset()
	cc.Reset()
	return
}

func last[T network.Event](evs []network.Event) (T, bool) {
	var zero T
	for i := len(evs) - 1; i >= 0; i-- {
		if ev, ok := evs[i].(T); ok {
			return ev, true
		}
	}
	return zero, false
}

func count[T network.Event](evs []network.Event) int {
	n := 0
	for _, ev := range evs {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func TestRoomManager_CreateAndGetRoom(t *testing.T) {
	h := newHarness(t)

	code := h.create(models.Settings{HintsEnabled: true})
	assert.Len(t, code, 6)

	r, exists := h.m.GetRoom(code)
	require.True(t, exists)
	assert.Equal(t, 15, r.Settings.MaxTurns, "max turns defaulted")
	assert.Equal(t, "Giant", r.Secret.Name)
	assert.Equal(t, state.StateWaiting, r.Status())
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 1, h.m.Count())
}

func TestRoomManager_CodeCollisionRetries(t *testing.T) {
	h := newHarness(t)
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	h.m.newCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}

	assert.Equal(t, "AAAAAA", h.create(models.Settings{}))
	assert.Equal(t, "BBBBBB", h.create(models.Settings{}))
}

func TestNormalizeSettings(t *testing.T) {
	h := newHarness(t)

	s, err := h.m.NormalizeSettings(models.Settings{})
	require.NoError(t, err)
	assert.Equal(t, 15, s.MaxTurns)

	_, err = h.m.NormalizeSettings(models.Settings{MaxTurns: -1})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = h.m.NormalizeSettings(models.Settings{MaxTurns: 51})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	s, err = h.m.NormalizeSettings(models.Settings{MaxTurns: 50})
	require.NoError(t, err)
	assert.Equal(t, 50, s.MaxTurns)
}

func TestJoin_RolesAndRoster(t *testing.T) {
	h := newHarness(t)
	code, host, chal, hc, cc := h.seated(models.Settings{})

	r, _ := h.m.GetRoom(code)
	require.Equal(t, 2, r.Count())
	p, _ := r.GetParticipant(host.ID)
	assert.Equal(t, models.RoleHost, p.Role)
	p, _ = r.GetParticipant(chal.ID)
	assert.Equal(t, models.RoleChallenger, p.Role)
	assert.Equal(t, code, host.RoomID())

	hostRoster, ok := last[network.LobbyUpdate](hc.Events(t))
	require.True(t, ok)
	assert.Equal(t, host.ID, hostRoster.SelfID)
	require.Len(t, hostRoster.Participants, 2)
	assert.Equal(t, "host", hostRoster.Participants[0].Role)
	assert.Equal(t, chal.ID, hostRoster.Participants[1].ID)

	chalRoster, ok := last[network.LobbyUpdate](cc.Events(t))
	require.True(t, ok)
	assert.Equal(t, chal.ID, chalRoster.SelfID)
	assert.Equal(t, hostRoster.Participants, chalRoster.Participants)
}

func TestJoin_LowercaseCode(t *testing.T) {
	h := newHarness(t)
	h.m.newCode = func() string { return "ABC123" }
	code := h.create(models.Settings{})

	s, _ := h.connect()
	h.send(s, network.Join{RoomCode: " abc123 "})
	assert.Equal(t, code, s.RoomID())
}

func TestJoin_NotFound(t *testing.T) {
	h := newHarness(t)
	s, conn := h.connect()

	h.send(s, network.Join{RoomCode: "NOPE00"})

	errEv, ok := last[network.Error](conn.Events(t))
	require.True(t, ok)
	assert.Equal(t, "Room not found.", errEv.Message)
	assert.False(t, conn.IsClosed(), "errors never close the connection")
	assert.Empty(t, s.RoomID())
}

func TestJoin_Full(t *testing.T) {
	h := newHarness(t)
	code, _, _, _, _ := h.seated(models.Settings{})

	third, conn := h.connect()
	h.send(third, network.Join{RoomCode: code})

	errEv, ok := last[network.Error](conn.Events(t))
	require.True(t, ok)
	assert.Equal(t, "This room is already full.", errEv.Message)

	r, _ := h.m.GetRoom(code)
	assert.Equal(t, 2, r.Count(), "roster unchanged")
	assert.Empty(t, third.RoomID())
}

func TestSeat_Errors(t *testing.T) {
	h := newHarness(t)
	code, _, _, _, _ := h.seated(models.Settings{})
	s, _ := h.connect()

	_, err := h.m.seat(s, "NOPE00")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = h.m.seat(s, code)
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Empty(t, s.RoomID())
}

func TestJoin_WhileSeatedIgnored(t *testing.T) {
	h := newHarness(t)
	first := h.create(models.Settings{})
	second := h.create(models.Settings{})

	s, _ := h.connect()
	h.send(s, network.Join{RoomCode: first})
	h.send(s, network.Join{RoomCode: second})

	assert.Equal(t, first, s.RoomID())
	r, _ := h.m.GetRoom(second)
	assert.Equal(t, 0, r.Count())
}

func TestCommandsOutsideRoomIgnored(t *testing.T) {
	h := newHarness(t)
	s, conn := h.connect()

	h.send(s, network.ToggleReady{})
	h.send(s, network.Guess{ItemName: "Giant"})
	h.send(s, network.Malformed{Raw: []byte("{"), Err: io.ErrUnexpectedEOF})

	assert.Empty(t, conn.Events(t))
	assert.False(t, conn.IsClosed())
}

func TestReady_StartsGame(t *testing.T) {
	h := newHarness(t)
	code, host, chal, hc, cc := h.seated(models.Settings{MaxTurns: 5, HintsEnabled: true})

	h.send(host, network.ToggleReady{})
	r, _ := h.m.GetRoom(code)
	assert.Equal(t, state.StateWaiting, r.Status())

	h.send(chal, network.ToggleReady{})
	assert.Equal(t, state.StatePlaying, r.Status())
	assert.False(t, r.StartedAt.IsZero())

	for _, conn := range []*MockConnection{hc, cc} {
		gs, ok := last[network.GameStart](conn.Events(t))
		require.True(t, ok)
		assert.Equal(t, code, gs.RoomCode)
		assert.Equal(t, 5, gs.Settings.MaxTurns)
		assert.True(t, gs.Settings.HintsEnabled)
	}
}

func TestGame_WinFinishesAndRecords(t *testing.T) {
	h := newHarness(t)
	code, host, chal, hc, cc := h.playing(models.Settings{MaxTurns: 15})

	h.send(host, network.Guess{ItemName: "Goblin"})
	assert.Equal(t, 1, h.sched.pending(), "turn timer armed on first guess")
	ts, ok := last[network.TimerStarted](cc.Events(t))
	require.True(t, ok)
	assert.Equal(t, 30, ts.DurationSeconds)

	h.send(chal, network.Guess{ItemName: "Knight"})
	assert.Equal(t, 1, h.sched.pending(), "only the new-turn delay remains")
	h.fire(newTurnDelay)
	nt, ok := last[network.NewTurn](hc.Events(t))
	require.True(t, ok)
	assert.Equal(t, 2, nt.Turn)

	h.send(chal, network.Guess{ItemName: "Giant"})
	h.send(host, network.Guess{ItemName: "Goblin"})

	_, exists := h.m.GetRoom(code)
	assert.False(t, exists, "room deleted on game over")
	assert.Empty(t, host.RoomID())
	assert.Empty(t, chal.RoomID())
	assert.Zero(t, h.sched.pending())

	over, ok := last[network.GameOver](cc.Events(t))
	require.True(t, ok)
	require.NotNil(t, over.Result.Winner)
	assert.Equal(t, network.WinnerSelf, *over.Result.Winner)
	assert.Equal(t, 2, over.Result.Turn)

	over, ok = last[network.GameOver](hc.Events(t))
	require.True(t, ok)
	assert.Equal(t, network.WinnerOpponent, *over.Result.Winner)
	assert.False(t, over.Result.Loss)
	assert.False(t, hc.IsClosed(), "connections stay open after game over")

	require.Len(t, h.rec.records, 1)
	rec := h.rec.records[0]
	assert.Equal(t, models.OutcomeWin, rec.Outcome)
	assert.Equal(t, models.RoleChallenger, rec.WinnerRole)
	assert.Equal(t, "Giant", rec.Secret)
	assert.Equal(t, 2, rec.Turns)
	require.Len(t, rec.Players, 2)
	assert.Equal(t, "Goblin", rec.Players[0].LastGuess)
}

func TestGame_GuessesInsideNewTurnDelay(t *testing.T) {
	h := newHarness(t)
	code, host, chal, hc, cc := h.playing(models.Settings{MaxTurns: 15})

	h.send(host, network.Guess{ItemName: "Goblin"})
	h.send(chal, network.Guess{ItemName: "Knight"})
	require.Equal(t, 1, h.sched.pending(), "new-turn delay armed")

	// turn 2 is played before the delay elapses
	hc.Reset()
	cc.Reset()
	h.send(host, network.Guess{ItemName: "Goblin"})

	evs := hc.Events(t)
	require.NotEmpty(t, evs)
	nt, ok := evs[0].(network.NewTurn)
	require.True(t, ok, "turn 2 announced before its first update, got %T", evs[0])
	assert.Equal(t, 2, nt.Turn)
	_, ok = last[network.NewTurn](cc.Events(t))
	assert.True(t, ok)

	h.send(chal, network.Guess{ItemName: "Knight"})
	require.Equal(t, 1, h.sched.pending(), "only the delay for turn 3 remains")
	h.fire(newTurnDelay)

	var turns []int
	for _, ev := range hc.Events(t) {
		if nt, ok := ev.(network.NewTurn); ok {
			turns = append(turns, nt.Turn)
		}
	}
	assert.Equal(t, []int{2, 3}, turns)
	assert.Zero(t, h.sched.pending())

	r, ok := h.m.GetRoom(code)
	require.True(t, ok)
	assert.Equal(t, 3, r.StateMachine.GetCurrentState().(*state.PlayingState).Turn)
}

func TestGame_DrawIsSymmetric(t *testing.T) {
	h := newHarness(t)
	_, host, chal, hc, cc := h.playing(models.Settings{})

	h.send(host, network.Guess{ItemName: "Giant"})
	h.send(chal, network.Guess{ItemName: "Giant"})

	for _, conn := range []*MockConnection{hc, cc} {
		over, ok := last[network.GameOver](conn.Events(t))
		require.True(t, ok)
		assert.True(t, over.Result.Draw)
		assert.Nil(t, over.Result.Winner)
	}
	assert.Zero(t, h.m.Count())
	require.Len(t, h.rec.records, 1)
	assert.Equal(t, models.OutcomeDraw, h.rec.records[0].Outcome)
}

func TestGame_TimeoutAutoGuess(t *testing.T) {
	h := newHarness(t)
	code, host, _, hc, cc := h.playing(models.Settings{})

	h.send(host, network.Guess{ItemName: "Goblin"})
	h.fire(turnTimeout)

	auto, ok := last[network.AutoGuessed](cc.Events(t))
	require.True(t, ok)
	assert.Zero(t, count[network.AutoGuessed](hc.Events(t)))

	up, ok := last[network.TurnUpdate](hc.Events(t))
	require.True(t, ok)
	require.NotNil(t, up.OpponentFeedback)
	assert.Equal(t, auto.ItemName, up.OpponentFeedback.Item.Name)

	if auto.ItemName != "Giant" {
		r, exists := h.m.GetRoom(code)
		require.True(t, exists)
		ps := r.StateMachine.GetCurrentState().(*state.PlayingState)
		assert.Equal(t, 2, ps.Turn)
	}
}

func TestGame_StaleTimerAfterCodeReuse(t *testing.T) {
	h := newHarness(t)
	h.m.newCode = func() string { return "SAME00" }
	code, host, chal, _, _ := h.playing(models.Settings{})

	h.send(host, network.Guess{ItemName: "Goblin"})
	staleToken := h.m.timerSeq

	// the challenger leaves; the room is torn down and its timers cancelled
	h.disconnect(chal)
	_, exists := h.m.GetRoom(code)
	require.False(t, exists)
	assert.Zero(t, h.sched.pending())

	// a new room takes the same code and starts playing
	code2, host2, _, hc2, cc2 := h.playing(models.Settings{})
	require.Equal(t, code, code2)
	h.send(host2, network.Guess{ItemName: "Knight"})

	// the old expiry arrives late
	h.m.handle(timerEvent{roomID: code, token: staleToken})

	assert.Zero(t, count[network.AutoGuessed](cc2.Events(t)))
	up, ok := last[network.TurnUpdate](hc2.Events(t))
	require.True(t, ok)
	assert.Nil(t, up.OpponentFeedback, "turn still open")
	assert.Equal(t, network.OpponentWaiting, up.OpponentStatus)
}

func TestDisconnect_HostEndsRoom(t *testing.T) {
	h := newHarness(t)
	code, host, chal, _, cc := h.seated(models.Settings{})

	h.disconnect(host)

	_, exists := h.m.GetRoom(code)
	assert.False(t, exists)
	hd, ok := last[network.HostDisconnected](cc.Events(t))
	require.True(t, ok)
	assert.NotEmpty(t, hd.Message)
	assert.True(t, cc.IsClosed())
	assert.Empty(t, chal.RoomID())
	assert.Empty(t, h.rec.records, "lobby departures are not recorded")
}

func TestDisconnect_HostWhilePlaying(t *testing.T) {
	h := newHarness(t)
	code, host, chal, _, cc := h.playing(models.Settings{})
	h.send(chal, network.Guess{ItemName: "Goblin"})
	require.Equal(t, 1, h.sched.pending(), "turn timer armed")

	h.disconnect(host)

	_, exists := h.m.GetRoom(code)
	assert.False(t, exists)
	hd, ok := last[network.HostDisconnected](cc.Events(t))
	require.True(t, ok)
	assert.Equal(t, "The host left the game.", hd.Message)
	assert.True(t, cc.IsClosed())
	assert.Empty(t, chal.RoomID())
	assert.Zero(t, h.sched.pending(), "turn timer cancelled")

	require.Len(t, h.rec.records, 1)
	assert.Equal(t, models.OutcomeHostLeft, h.rec.records[0].Outcome)
}

func TestDisconnect_HostCloseErrorStillEndsRoom(t *testing.T) {
	h := newHarness(t)
	code, host, chal, _, cc := h.playing(models.Settings{})
	cc.closeErr = io.ErrClosedPipe

	h.disconnect(host)

	_, exists := h.m.GetRoom(code)
	assert.False(t, exists)
	assert.Empty(t, chal.RoomID())
	require.Len(t, h.rec.records, 1)
}

func TestDisconnect_ChallengerWhilePlaying(t *testing.T) {
	h := newHarness(t)
	code, host, chal, hc, _ := h.playing(models.Settings{})
	h.send(host, network.Guess{ItemName: "Goblin"})

	h.disconnect(chal)

	_, exists := h.m.GetRoom(code)
	assert.False(t, exists)
	_, ok := last[network.OpponentDisconnected](hc.Events(t))
	assert.True(t, ok)
	assert.False(t, hc.IsClosed())
	assert.Empty(t, host.RoomID())
	assert.Zero(t, h.sched.pending(), "turn timer cancelled")

	require.Len(t, h.rec.records, 1)
	assert.Equal(t, models.OutcomeAbandoned, h.rec.records[0].Outcome)
}

func TestDisconnect_ChallengerWhileWaiting(t *testing.T) {
	h := newHarness(t)
	code, host, chal, hc, _ := h.seated(models.Settings{})
	h.send(host, network.ToggleReady{})
	hc.Reset()

	h.disconnect(chal)

	r, exists := h.m.GetRoom(code)
	require.True(t, exists)
	assert.Equal(t, 1, r.Count())
	p, _ := r.GetParticipant(host.ID)
	assert.False(t, p.Ready, "host ready flag reset")

	roster, ok := last[network.LobbyUpdate](hc.Events(t))
	require.True(t, ok)
	require.Len(t, roster.Participants, 1)
	assert.False(t, roster.Participants[0].IsReady)

	// the seat can be taken again
	next, _ := h.connect()
	h.send(next, network.Join{RoomCode: code})
	assert.Equal(t, 2, r.Count())
}

func TestPublicRooms(t *testing.T) {
	h := newHarness(t)
	public := h.create(models.Settings{IsPublic: true})
	h.create(models.Settings{IsPublic: false})
	full, _, _, _, _ := h.seated(models.Settings{IsPublic: true})

	s, _ := h.connect()
	h.send(s, network.Join{RoomCode: public})

	list := h.m.publicRooms()
	require.Len(t, list, 1)
	assert.Equal(t, public, list[0].RoomCode)
	assert.Equal(t, 1, list[0].Participants)
	assert.NotEqual(t, full, list[0].RoomCode)
}

func TestReapIdle(t *testing.T) {
	h := newHarness(t)
	start := time.Now()
	h.m.now = func() time.Time { return start }

	empty := h.create(models.Settings{})
	occupied := h.create(models.Settings{})
	s, _ := h.connect()
	h.send(s, network.Join{RoomCode: occupied})

	h.m.reapIdle(start.Add(5 * time.Minute))
	assert.Equal(t, 2, h.m.Count())

	h.m.reapIdle(start.Add(11 * time.Minute))
	_, exists := h.m.GetRoom(empty)
	assert.False(t, exists)
	_, exists = h.m.GetRoom(occupied)
	assert.True(t, exists)
}

func TestPanicDropsOnlyTheRoom(t *testing.T) {
	h := newHarness(t)
	code, host, _, _, _ := h.playing(models.Settings{})
	other := h.create(models.Settings{})

	h.m.catalog = nil // lookups now panic

	assert.NotPanics(t, func() { h.send(host, network.Guess{ItemName: "Goblin"}) })

	_, exists := h.m.GetRoom(code)
	assert.False(t, exists)
	_, exists = h.m.GetRoom(other)
	assert.True(t, exists)
}

func TestRun_RequestsAndShutdown(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		assert.NoError(t, h.m.Run(ctx))
	}()

	code, err := h.m.CreateRoom(ctx, models.Settings{IsPublic: true})
	require.NoError(t, err)

	_, err = h.m.CreateRoom(ctx, models.Settings{MaxTurns: 99})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	list, err := h.m.PublicRooms(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, code, list[0].RoomCode)

	s, conn := h.connect()
	require.True(t, h.m.HandleCommand(s, network.Join{RoomCode: code}))

	assert.Eventually(t, func() bool { return s.RoomID() == code }, time.Second, 5*time.Millisecond)

	stats, err := h.m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Rooms: 1, Waiting: 1, Sessions: 1}, stats)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	errEv, ok := last[network.Error](conn.Events(t))
	require.True(t, ok)
	assert.Contains(t, errEv.Message, "shutting down")
	assert.Zero(t, h.m.Count())

	_, err = h.m.CreateRoom(context.Background(), models.Settings{})
	assert.ErrorIs(t, err, ErrManagerStopped)
	assert.False(t, h.m.Disconnect(s))
}
