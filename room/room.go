// room/room.go
package room

import (
	"errors"
	"time"

	"github.com/wfunc/cardduel/catalog"
	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/models"
	"github.com/wfunc/cardduel/network"
	"github.com/wfunc/cardduel/session"
	"github.com/wfunc/cardduel/state"
)

// MaxParticipants is the seat count of every room.
const MaxParticipants = 2

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
	ErrNotSeated    = errors.New("session is not seated in this room")
)

// Participant 房间中的一个座位
type Participant struct {
	Session *session.Session
	Role    models.Role
	Ready   bool
}

// --- 实现 state.Player 接口 ---

func (p *Participant) GetID() string        { return p.Session.ID }
func (p *Participant) GetRole() models.Role { return p.Role }
func (p *Participant) IsReady() bool        { return p.Ready }
func (p *Participant) SetReady(ready bool)  { p.Ready = ready }

// Room 是游戏房间的核心结构. It is only touched from the manager's event loop.
type Room struct {
	ID           string
	Settings     models.Settings
	Secret       catalog.Item
	CreatedAt    time.Time
	StartedAt    time.Time
	StateMachine state.StateMachine

	participants []*Participant
	timers       map[int64]int64 // timer token -> scheduler id
	manager      *Manager
}

// newRoom 创建一个新房间
func newRoom(id string, settings models.Settings, secret catalog.Item, manager *Manager) *Room {
	room := &Room{
		ID:        id,
		Settings:  settings,
		Secret:    secret,
		CreatedAt: manager.now(),
		timers:    make(map[int64]int64),
		manager:   manager,
	}

	// 初始化状态机，将房间自身(room)作为上下文传入
	machine := state.NewBaseStateMachine(state.NewWaitingState(room))
	if err := machine.AddTransition(state.StateWaiting, state.StatePlaying, func() bool {
		return state.CanStart(room.GetPlayers())
	}); err != nil {
		logger.Log.Debugf("房间 %s: add transition: %v", id, err)
	}
	room.StateMachine = machine

	return room
}

// --- 实现 state.RoomContext 接口 ---

// GetID 返回房间ID
func (r *Room) GetID() string {
	return r.ID
}

// GetPlayers returns the seated participants, host first.
func (r *Room) GetPlayers() []state.Player {
	players := make([]state.Player, len(r.participants))
	for i, p := range r.participants {
		players[i] = p
	}
	return players
}

func (r *Room) GetSettings() models.Settings {
	return r.Settings
}

func (r *Room) GetSecret() catalog.Item {
	return r.Secret
}

func (r *Room) GetCatalog() *catalog.Catalog {
	return r.manager.catalog
}

func (r *Room) GetTiming() state.Timing {
	return r.manager.timing
}

func (r *Room) GetObserver() state.Observer {
	return r.manager.observer
}

// ChangeState 改变房间的状态机状态
func (r *Room) ChangeState(newState state.State) error {
	if err := r.StateMachine.ChangeState(newState); err != nil {
		return err
	}
	if newState.GetID() == state.StatePlaying {
		r.StartedAt = r.manager.now()
	}
	return nil
}

// Send delivers ev to one participant.
func (r *Room) Send(playerID string, ev network.Event) {
	if err := r.manager.broadcaster.SendToSession(playerID, ev); err != nil {
		logger.Log.Debugf("房间 %s: send %s to %s: %v", r.ID, ev.EventType(), playerID, err)
	}
}

// Broadcast sends ev to every participant in the room.
func (r *Room) Broadcast(ev network.Event) {
	if err := r.manager.broadcaster.BroadcastToRoom(r.ID, ev); err != nil {
		logger.Log.Debugf("房间 %s: broadcast %s: %v", r.ID, ev.EventType(), err)
	}
}

// BroadcastRoster sends every participant the roster with its own id as selfId.
func (r *Room) BroadcastRoster() {
	roster := make([]network.Participant, len(r.participants))
	for i, p := range r.participants {
		roster[i] = network.Participant{
			ID:      p.GetID(),
			Name:    displayName(p.Role),
			Role:    string(p.Role),
			IsReady: p.Ready,
		}
	}
	for _, p := range r.participants {
		r.Send(p.GetID(), network.LobbyUpdate{
			RoomCode:     r.ID,
			Participants: roster,
			SelfID:       p.GetID(),
		})
	}
}

// Schedule arms a one-shot timer. Its expiry is posted back to the event loop.
func (r *Room) Schedule(delay time.Duration) int64 {
	token := r.manager.nextTimerToken()
	roomID := r.ID
	id := r.manager.scheduler.AddTimer(delay, 0, func() {
		r.manager.post(timerEvent{roomID: roomID, token: token})
	})
	r.timers[token] = id
	return token
}

func (r *Room) CancelTimer(token int64) {
	if id, ok := r.timers[token]; ok {
		r.manager.scheduler.RemoveTimer(id)
		delete(r.timers, token)
	}
}

// Finish ends the match and removes the room from the registry.
func (r *Room) Finish(result state.Result) {
	r.manager.finishRoom(r, result)
}

// --- 房间核心逻辑 ---

// Status 返回房间的生命周期状态 (waiting / playing)
func (r *Room) Status() string {
	return r.StateMachine.GetCurrentState().GetID()
}

// Count returns the number of seated participants.
func (r *Room) Count() int {
	return len(r.participants)
}

// AddParticipant 添加一个玩家到房间
func (r *Room) AddParticipant(s *session.Session) (*Participant, error) {
	if len(r.participants) >= MaxParticipants {
		return nil, ErrRoomFull
	}

	role := models.RoleHost
	if len(r.participants) > 0 {
		role = models.RoleChallenger
	}
	p := &Participant{Session: s, Role: role}
	r.participants = append(r.participants, p)
	s.SetRoomID(r.ID)
	return p, nil
}

// GetParticipant 获取单个玩家
func (r *Room) GetParticipant(sessionID string) (*Participant, bool) {
	for _, p := range r.participants {
		if p.GetID() == sessionID {
			return p, true
		}
	}
	return nil, false
}

// removeParticipant 从房间移除一个玩家
func (r *Room) removeParticipant(sessionID string) *Participant {
	for i, p := range r.participants {
		if p.GetID() == sessionID {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			p.Session.SetRoomID("")
			return p
		}
	}
	return nil
}

// GetSessions returns the sessions of all seated participants.
func (r *Room) GetSessions() []*session.Session {
	sessions := make([]*session.Session, 0, len(r.participants))
	for _, p := range r.participants {
		sessions = append(sessions, p.Session)
	}
	return sessions
}

// HandleAction routes a participant's action to the current state.
func (r *Room) HandleAction(sessionID string, action state.Action) error {
	p, ok := r.GetParticipant(sessionID)
	if !ok {
		return ErrNotSeated
	}
	return r.StateMachine.GetCurrentState().HandleAction(p, action)
}

// fireTimer delivers a live timer to the current state; unknown tokens are stale.
func (r *Room) fireTimer(token int64) error {
	if _, ok := r.timers[token]; !ok {
		return nil
	}
	delete(r.timers, token)
	return r.StateMachine.GetCurrentState().HandleAction(nil, state.TimerFired{ID: token})
}

// handleDisconnect applies the departure rules for sessionID.
func (r *Room) handleDisconnect(sessionID string) {
	p, ok := r.GetParticipant(sessionID)
	if !ok {
		return
	}
	playing := r.Status() == state.StatePlaying

	if p.Role == models.RoleHost {
		r.removeParticipant(sessionID)
		for _, other := range r.participants {
			r.Send(other.GetID(), network.HostDisconnected{Message: "The host left the game."})
			other.Session.SetRoomID("")
			if err := other.Session.Close(); err != nil {
				logger.Log.Debugf("房间 %s: close %s: %v", r.ID, other.GetID(), err)
			}
		}
		r.manager.finishRoom(r, state.Result{Outcome: models.OutcomeHostLeft, Turn: r.currentTurn()})
		return
	}

	r.removeParticipant(sessionID)
	if playing {
		for _, other := range r.participants {
			r.Send(other.GetID(), network.OpponentDisconnected{})
		}
		r.manager.finishRoom(r, state.Result{Outcome: models.OutcomeAbandoned, Turn: r.currentTurn()})
		return
	}

	if len(r.participants) == 0 {
		r.manager.removeRoom(r.ID)
		return
	}
	for _, other := range r.participants {
		if other.Role == models.RoleHost {
			other.Ready = false
		}
	}
	r.BroadcastRoster()
}

func (r *Room) currentTurn() int {
	if ps, ok := r.StateMachine.GetCurrentState().(*state.PlayingState); ok {
		return ps.Turn
	}
	return 0
}

// cancelTimers stops every outstanding timer of the room.
func (r *Room) cancelTimers() {
	for token := range r.timers {
		r.CancelTimer(token)
	}
}

// summary describes the room for the public listing.
func (r *Room) summary() models.RoomSummary {
	return models.RoomSummary{
		RoomCode:     r.ID,
		Settings:     r.Settings,
		Participants: len(r.participants),
		CreatedAt:    r.CreatedAt,
	}
}

func displayName(role models.Role) string {
	if role == models.RoleHost {
		return "Player 1"
	}
	return "Player 2"
}
