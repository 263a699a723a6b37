// broadcast/broadcast.go
package broadcast

import (
	"errors"

	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/network"
	"github.com/wfunc/cardduel/room"
	"github.com/wfunc/cardduel/session"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("session not found")
)

// 基于房间的广播器
type RoomBroadcaster struct {
	roomManager    *room.Manager
	sessionManager *session.Manager
}

func NewRoomBroadcaster(roomManager *room.Manager, sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		roomManager:    roomManager,
		sessionManager: sessionManager,
	}
}

// BroadcastToRoom sends ev to every participant of roomID. Per-session failures are
// logged and skipped so one slow client cannot starve the other.
func (b *RoomBroadcaster) BroadcastToRoom(roomID string, ev network.Event) error {
	r, exists := b.roomManager.GetRoom(roomID)
	if !exists {
		return ErrRoomNotFound
	}

	for _, s := range r.GetSessions() {
		if err := s.Send(ev); err != nil {
			logger.Log.Debugf("broadcast %s to %s: %v", ev.EventType(), s.ID, err)
			continue
		}
	}
	return nil
}

// SendToSession delivers ev to a single connected session.
func (b *RoomBroadcaster) SendToSession(sessionID string, ev network.Event) error {
	s, ok := b.sessionManager.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Send(ev)
}

// BroadcastToAll sends ev to every connected session.
func (b *RoomBroadcaster) BroadcastToAll(ev network.Event) error {
	var errs []error
	for _, s := range b.sessionManager.All() {
		if err := s.Send(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
