package room

import (
	"time"

	"github.com/wfunc/cardduel/models"
	"github.com/wfunc/cardduel/network"
	"github.com/wfunc/cardduel/state"
)

// Broadcaster defines the interface for delivering events to sessions.
// This is defined here to break the import cycle between room and broadcast.
type Broadcaster interface {
	BroadcastToRoom(roomID string, ev network.Event) error
	SendToSession(sessionID string, ev network.Event) error
	BroadcastToAll(ev network.Event) error
}

// Recorder persists finished matches. Record must not block the caller.
type Recorder interface {
	Record(rec models.MatchRecord)
}

// Observer receives the registry's metrics.
type Observer interface {
	state.Observer
	SetActiveRooms(count int)
	IncGamesFinished(outcome string)
	IncMessagesReceived()
	ObserveMessageLatency(duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Record(models.MatchRecord) {}

type nopObserver struct{}

func (nopObserver) IncTurnsResolved()                   {}
func (nopObserver) IncAutoGuesses()                     {}
func (nopObserver) SetActiveRooms(int)                  {}
func (nopObserver) IncGamesFinished(string)             {}
func (nopObserver) IncMessagesReceived()                {}
func (nopObserver) ObserveMessageLatency(time.Duration) {}
