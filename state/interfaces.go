// state/interfaces.go
package state

import (
	"time"

	"github.com/wfunc/cardduel/catalog"
	"github.com/wfunc/cardduel/models"
	"github.com/wfunc/cardduel/network"
)

// Player defines the minimal interface for a seated participant that a state needs to interact with.
type Player interface {
	GetID() string
	GetRole() models.Role
	IsReady() bool
	SetReady(ready bool)
}

// Timing holds the fixed durations of the turn protocol.
type Timing struct {
	TurnTimeout  time.Duration
	NewTurnDelay time.Duration
}

// Observer receives gameplay counters.
type Observer interface {
	IncTurnsResolved()
	IncAutoGuesses()
}

// Result describes how a room's protocol ended.
type Result struct {
	Outcome  models.Outcome
	Turn     int
	WinnerID string
	Guesses  map[string]string // participant id -> final guessed item name
}

// RoomContext defines the interface that a Room must implement to be managed by the state machine.
// This breaks the import cycle between room and state.
type RoomContext interface {
	GetID() string
	GetPlayers() []Player // seat order, host first
	GetSettings() models.Settings
	GetSecret() catalog.Item
	GetCatalog() *catalog.Catalog
	GetTiming() Timing
	GetObserver() Observer
	ChangeState(newState State) error
	Send(playerID string, ev network.Event)
	Broadcast(ev network.Event)
	BroadcastRoster()
	// Schedule arms a one-shot timer whose expiry comes back as TimerFired{ID}.
	Schedule(delay time.Duration) int64
	CancelTimer(id int64)
	Finish(result Result)
}
