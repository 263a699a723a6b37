package state

import (
	"errors"
	"sync"
)

// 状态ID
const (
	StateWaiting = "waiting"
	StatePlaying = "playing"
)

// 状态机接口
type StateMachine interface {
	ChangeState(state State) error
	GetCurrentState() State
	AddTransition(fromID, toID string, condition func() bool) error
}

// 状态接口
type State interface {
	OnEnter()
	OnExit()
	GetID() string
	HandleAction(player Player, action Action) error
}

// Action is an input delivered to the current state. Concrete types are
// ToggleReady, SubmitGuess and TimerFired.
type Action interface {
	actionName() string
}

type ToggleReady struct{}

type SubmitGuess struct {
	ItemName string
}

// TimerFired is delivered with a nil player.
type TimerFired struct {
	ID int64
}

func (ToggleReady) actionName() string { return "toggle_ready" }
func (SubmitGuess) actionName() string { return "submit_guess" }
func (TimerFired) actionName() string  { return "timer_fired" }

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// 基础状态机实现
type BaseStateMachine struct {
	currentState State
	transitions  map[string]map[string]func() bool // fromState -> toState -> condition
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[string]map[string]func() bool),
	}
	initialState.OnEnter()
	return machine
}

func (sm *BaseStateMachine) ChangeState(newState State) error {
	sm.mutex.Lock()

	currentID := sm.currentState.GetID()
	newID := newState.GetID()

	// 检查是否有转换条件
	if conditions, exists := sm.transitions[currentID]; exists {
		if condition, exists := conditions[newID]; exists {
			if condition != nil && !condition() {
				sm.mutex.Unlock()
				return ErrTransitionNotAllowed
			}
		}
	}

	old := sm.currentState
	sm.currentState = newState
	sm.mutex.Unlock()

	// OnExit/OnEnter run unlocked so they may read the current state.
	old.OnExit()
	newState.OnEnter()

	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

func (sm *BaseStateMachine) AddTransition(fromID, toID string, condition func() bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.transitions[fromID]; !exists {
		sm.transitions[fromID] = make(map[string]func() bool)
	}

	sm.transitions[fromID][toID] = condition
	return nil
}

// 房间状态基础结构
type RoomStateBase struct {
	ID   string
	Room RoomContext
}

func (s *RoomStateBase) GetID() string {
	return s.ID
}

func (s *RoomStateBase) OnEnter() {}

func (s *RoomStateBase) OnExit() {}

// HandleAction ignores everything; actions that are invalid for a state are no-ops.
func (s *RoomStateBase) HandleAction(player Player, action Action) error {
	return nil
}

// NewWaitingState creates a new lobby state.
func NewWaitingState(room RoomContext) *WaitingState {
	return &WaitingState{
		RoomStateBase: RoomStateBase{
			ID:   StateWaiting,
			Room: room,
		},
	}
}

// 等待状态: seats fill up and players confirm readiness.
type WaitingState struct {
	RoomStateBase
}

func (s *WaitingState) HandleAction(player Player, action Action) error {
	if _, ok := action.(ToggleReady); !ok || player == nil {
		return nil
	}

	player.SetReady(!player.IsReady())
	s.Room.BroadcastRoster()

	// The room guards waiting -> playing with "two seats, both ready".
	err := s.Room.ChangeState(NewPlayingState(s.Room))
	if errors.Is(err, ErrTransitionNotAllowed) {
		return nil
	}
	return err
}

// CanStart is the waiting -> playing guard.
func CanStart(players []Player) bool {
	if len(players) != 2 {
		return false
	}
	for _, p := range players {
		if !p.IsReady() {
			return false
		}
	}
	return true
}
