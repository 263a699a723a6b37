// room/manager.go
package room

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/cardduel/catalog"
	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/models"
	"github.com/wfunc/cardduel/network"
	"github.com/wfunc/cardduel/session"
	"github.com/wfunc/cardduel/state"
	"github.com/wfunc/cardduel/timer"
)

var (
	ErrInvalidSettings = errors.New("invalid room settings")
	ErrManagerStopped  = errors.New("room manager stopped")
	ErrCodeExhausted   = errors.New("could not allocate a free room code")
)

const codeAttempts = 16

// Options 房间管理器配置
type Options struct {
	Timing          state.Timing
	DefaultMaxTurns int
	MaxTurnsLimit   int
	IdleTimeout     time.Duration
	QueueSize       int
}

// Stats is a snapshot of the registry.
type Stats struct {
	Rooms    int `json:"rooms"`
	Waiting  int `json:"waiting"`
	Playing  int `json:"playing"`
	Sessions int `json:"sessions"`
}

// --- loop events ---

type commandEvent struct {
	session  *session.Session
	cmd      network.Command
	received time.Time
}

type disconnectEvent struct {
	session *session.Session
}

type timerEvent struct {
	roomID string
	token  int64
}

type createResult struct {
	code string
	err  error
}

type createEvent struct {
	settings models.Settings
	reply    chan createResult
}

type listEvent struct {
	reply chan []models.RoomSummary
}

type statsEvent struct {
	reply chan Stats
}

type reapEvent struct {
	now time.Time
}

// Manager 管理所有房间. Every mutation of the registry and of any room happens on
// the goroutine running Run; other goroutines post events.
type Manager struct {
	rooms map[string]*Room
	mutex sync.RWMutex // guards rooms for readers outside the loop

	catalog     *catalog.Catalog
	sessions    *session.Manager
	broadcaster Broadcaster
	scheduler   timer.Scheduler
	recorder    Recorder
	observer    Observer
	opts        Options
	timing      state.Timing

	events   chan any
	done     chan struct{}
	stopOnce sync.Once
	timerSeq int64

	now        func() time.Time
	pickSecret func(*catalog.Catalog) catalog.Item
	newCode    func() string
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager(cat *catalog.Catalog, sessions *session.Manager, scheduler timer.Scheduler, opts Options) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.DefaultMaxTurns <= 0 {
		opts.DefaultMaxTurns = 15
	}
	return &Manager{
		rooms:      make(map[string]*Room),
		catalog:    cat,
		sessions:   sessions,
		scheduler:  scheduler,
		recorder:   nopRecorder{},
		observer:   nopObserver{},
		opts:       opts,
		timing:     opts.Timing,
		events:     make(chan any, opts.QueueSize),
		done:       make(chan struct{}),
		now:        time.Now,
		pickSecret: func(c *catalog.Catalog) catalog.Item { return c.Random() },
		newCode:    defaultCode,
	}
}

func defaultCode() string {
	return strings.ToUpper(uuid.NewString()[:6])
}

func (m *Manager) SetBroadcaster(b Broadcaster) { m.broadcaster = b }
func (m *Manager) SetRecorder(r Recorder)       { m.recorder = r }
func (m *Manager) SetObserver(o Observer)       { m.observer = o }

// SetSecretPicker overrides how a new room's secret is chosen.
func (m *Manager) SetSecretPicker(pick func(*catalog.Catalog) catalog.Item) {
	m.pickSecret = pick
}

// Run processes events until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	var reap <-chan time.Time
	if m.opts.IdleTimeout > 0 {
		interval := m.opts.IdleTimeout / 2
		if interval < time.Second {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		reap = ticker.C
	}

	logger.Log.Infof("room manager started")
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case ev := <-m.events:
			m.handle(ev)
		case now := <-reap:
			m.handle(reapEvent{now: now})
		}
	}
}

// post hands ev to the loop. It fails only once the manager has stopped.
func (m *Manager) post(ev any) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// HandleCommand queues a decoded client command.
func (m *Manager) HandleCommand(s *session.Session, cmd network.Command) bool {
	return m.post(commandEvent{session: s, cmd: cmd, received: time.Now()})
}

// Disconnect queues the departure of a session.
func (m *Manager) Disconnect(s *session.Session) bool {
	return m.post(disconnectEvent{session: s})
}

// CreateRoom registers a new waiting room and returns its code.
func (m *Manager) CreateRoom(ctx context.Context, settings models.Settings) (string, error) {
	settings, err := m.NormalizeSettings(settings)
	if err != nil {
		return "", err
	}

	reply := make(chan createResult, 1)
	if err := m.request(ctx, createEvent{settings: settings, reply: reply}); err != nil {
		return "", err
	}
	select {
	case res := <-reply:
		return res.code, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.done:
		return "", ErrManagerStopped
	}
}

// PublicRooms lists public rooms that are still waiting for a challenger.
func (m *Manager) PublicRooms(ctx context.Context) ([]models.RoomSummary, error) {
	reply := make(chan []models.RoomSummary, 1)
	if err := m.request(ctx, listEvent{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrManagerStopped
	}
}

// Stats returns a registry snapshot.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := m.request(ctx, statsEvent{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-m.done:
		return Stats{}, ErrManagerStopped
	}
}

func (m *Manager) request(ctx context.Context, ev any) error {
	select {
	case <-m.done:
		return ErrManagerStopped
	default:
	}
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrManagerStopped
	}
}

// NormalizeSettings fills defaults and validates client-provided settings.
func (m *Manager) NormalizeSettings(s models.Settings) (models.Settings, error) {
	if s.MaxTurns == 0 {
		s.MaxTurns = m.opts.DefaultMaxTurns
	}
	if s.MaxTurns < 1 || (m.opts.MaxTurnsLimit > 0 && s.MaxTurns > m.opts.MaxTurnsLimit) {
		return s, fmt.Errorf("%w: maxTurns must be between 1 and %d", ErrInvalidSettings, m.opts.MaxTurnsLimit)
	}
	return s, nil
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// handle processes one event. A panic drops the affected room, never the loop.
func (m *Manager) handle(ev any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("room manager: panic handling %T: %v\n%s", ev, r, debug.Stack())
			if id := eventRoom(ev); id != "" {
				m.removeRoom(id)
			}
		}
	}()

	switch e := ev.(type) {
	case commandEvent:
		m.handleCommand(e)
	case disconnectEvent:
		m.handleDisconnect(e.session)
	case timerEvent:
		m.handleTimer(e)
	case createEvent:
		code, err := m.createRoom(e.settings)
		e.reply <- createResult{code: code, err: err}
	case listEvent:
		e.reply <- m.publicRooms()
	case statsEvent:
		e.reply <- m.stats()
	case reapEvent:
		m.reapIdle(e.now)
	default:
		logger.Log.Warnf("room manager: unknown event %T", ev)
	}
}

func eventRoom(ev any) string {
	switch e := ev.(type) {
	case commandEvent:
		return e.session.RoomID()
	case disconnectEvent:
		return e.session.RoomID()
	case timerEvent:
		return e.roomID
	}
	return ""
}

func (m *Manager) handleCommand(e commandEvent) {
	m.observer.IncMessagesReceived()
	defer func() { m.observer.ObserveMessageLatency(time.Since(e.received)) }()

	switch cmd := e.cmd.(type) {
	case network.Join:
		m.join(e.session, cmd.RoomCode)
	case network.ToggleReady:
		m.dispatch(e.session, state.ToggleReady{})
	case network.Guess:
		m.dispatch(e.session, state.SubmitGuess{ItemName: cmd.ItemName})
	case network.Malformed:
		logger.Log.Debugf("session %s: malformed frame ignored: %v", e.session.ID, cmd.Err)
	}
}

func (m *Manager) join(s *session.Session, code string) {
	if s.RoomID() != "" {
		logger.Log.Debugf("session %s already seated in %s, join ignored", s.ID, s.RoomID())
		return
	}

	room, err := m.seat(s, code)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		m.sendError(s, "Room not found.")
		return
	case errors.Is(err, ErrRoomFull):
		m.sendError(s, "This room is already full.")
		return
	case err != nil:
		logger.Log.Warnf("session %s: join %s: %v", s.ID, code, err)
		return
	}

	logger.Log.Infof("session %s joined room %s (%d/%d)", s.ID, room.ID, room.Count(), MaxParticipants)
	room.BroadcastRoster()
}

// seat looks up code (case-insensitive) and takes a seat for s.
func (m *Manager) seat(s *session.Session, code string) (*Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	room, ok := m.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if _, err := room.AddParticipant(s); err != nil {
		return nil, err
	}
	return room, nil
}

func (m *Manager) dispatch(s *session.Session, action state.Action) {
	roomID := s.RoomID()
	if roomID == "" {
		return
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return
	}
	if err := room.HandleAction(s.ID, action); err != nil {
		logger.Log.Warnf("房间 %s: action from %s failed: %v", roomID, s.ID, err)
	}
}

func (m *Manager) handleDisconnect(s *session.Session) {
	roomID := s.RoomID()
	if roomID == "" {
		return
	}
	if room, ok := m.rooms[roomID]; ok {
		logger.Log.Infof("session %s left room %s", s.ID, roomID)
		room.handleDisconnect(s.ID)
	}
}

func (m *Manager) handleTimer(e timerEvent) {
	room, ok := m.rooms[e.roomID]
	if !ok {
		return
	}
	if err := room.fireTimer(e.token); err != nil {
		logger.Log.Warnf("房间 %s: timer %d: %v", e.roomID, e.token, err)
	}
}

func (m *Manager) sendError(s *session.Session, msg string) {
	if err := s.Send(network.Error{Message: msg}); err != nil {
		logger.Log.Debugf("session %s: send error event: %v", s.ID, err)
	}
}

func (m *Manager) nextTimerToken() int64 {
	m.timerSeq++
	return m.timerSeq
}

// createRoom 创建一个新房间并添加到管理器
func (m *Manager) createRoom(settings models.Settings) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := m.newCode()
		if _, taken := m.rooms[code]; taken {
			continue
		}

		room := newRoom(code, settings, m.pickSecret(m.catalog), m)
		m.mutex.Lock()
		m.rooms[code] = room
		count := len(m.rooms)
		m.mutex.Unlock()

		m.observer.SetActiveRooms(count)
		logger.Log.Infof("房间 %s 创建: maxTurns=%d hints=%v public=%v", code, settings.MaxTurns, settings.HintsEnabled, settings.IsPublic)
		logger.Log.Debugf("房间 %s secret: %s", code, room.Secret.Name)
		return code, nil
	}
	return "", ErrCodeExhausted
}

// removeRoom 从管理器中移除一个房间
func (m *Manager) removeRoom(id string) {
	m.mutex.Lock()
	room, exists := m.rooms[id]
	delete(m.rooms, id)
	count := len(m.rooms)
	m.mutex.Unlock()

	if !exists {
		return
	}
	room.cancelTimers()
	for _, p := range room.participants {
		p.Session.SetRoomID("")
	}
	m.observer.SetActiveRooms(count)
	logger.Log.Infof("房间 %s 已删除", id)
}

// finishRoom records a started match and deletes the room.
func (m *Manager) finishRoom(room *Room, result state.Result) {
	if !room.StartedAt.IsZero() {
		m.observer.IncGamesFinished(string(result.Outcome))
		m.recorder.Record(m.matchRecord(room, result))
	}
	m.removeRoom(room.ID)
}

func (m *Manager) matchRecord(room *Room, result state.Result) models.MatchRecord {
	rec := models.MatchRecord{
		RoomCode:  room.ID,
		Secret:    room.Secret.Name,
		Outcome:   result.Outcome,
		Turns:     result.Turn,
		Settings:  room.Settings,
		Duration:  m.now().Sub(room.StartedAt),
		CreatedAt: room.CreatedAt,
	}
	for _, p := range room.participants {
		if p.GetID() == result.WinnerID {
			rec.WinnerRole = p.Role
		}
		rec.Players = append(rec.Players, models.PlayerInfo{
			ParticipantID: p.GetID(),
			Role:          p.Role,
			LastGuess:     result.Guesses[p.GetID()],
		})
	}
	return rec
}

// publicRooms 查找可加入的公开房间
func (m *Manager) publicRooms() []models.RoomSummary {
	out := make([]models.RoomSummary, 0)
	for _, room := range m.rooms {
		if room.Settings.IsPublic && room.Status() == state.StateWaiting && room.Count() < MaxParticipants {
			out = append(out, room.summary())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) stats() Stats {
	st := Stats{Rooms: len(m.rooms)}
	if m.sessions != nil {
		st.Sessions = m.sessions.Count()
	}
	for _, room := range m.rooms {
		switch room.Status() {
		case state.StateWaiting:
			st.Waiting++
		case state.StatePlaying:
			st.Playing++
		}
	}
	return st
}

// reapIdle deletes rooms nobody joined within the idle timeout.
func (m *Manager) reapIdle(now time.Time) {
	if m.opts.IdleTimeout <= 0 {
		return
	}
	for id, room := range m.rooms {
		if room.Count() == 0 && now.Sub(room.CreatedAt) >= m.opts.IdleTimeout {
			logger.Log.Infof("房间 %s idle for %v, reaping", id, now.Sub(room.CreatedAt).Round(time.Second))
			m.removeRoom(id)
		}
	}
}

// shutdown tells every connected session the server is going away and clears the registry.
func (m *Manager) shutdown() {
	m.stopOnce.Do(func() {
		close(m.done)
	})

	if m.broadcaster != nil {
		if err := m.broadcaster.BroadcastToAll(network.Error{Message: "Server is shutting down."}); err != nil {
			logger.Log.Warnf("room manager: shutdown notice: %v", err)
		}
	}
	for id := range m.rooms {
		m.removeRoom(id)
	}
	logger.Log.Infof("room manager stopped")
}
