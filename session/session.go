// session/session.go
package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wfunc/cardduel/network"
)

// Session is one live connection. Its ID doubles as the participant id when the
// connection takes a seat in a room.
type Session struct {
	ID         string
	Conn       network.Connection
	RemoteAddr string
	CreatedAt  time.Time
	limiter    *rate.Limiter
	roomID     string
	mutex      sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	s := &Session{
		ID:        id,
		Conn:      conn,
		CreatedAt: time.Now(),
	}
	if addr := conn.RemoteAddr(); addr != nil {
		s.RemoteAddr = addr.String()
	}
	return s
}

// SetRateLimit limits inbound messages to perSecond with the given burst.
func (s *Session) SetRateLimit(perSecond float64, burst int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Allow reports whether another inbound message may be processed now.
func (s *Session) Allow() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// RoomID is the room this session is seated in, or "".
func (s *Session) RoomID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.roomID
}

func (s *Session) SetRoomID(roomID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.roomID = roomID
}

// Send encodes ev and queues it on the connection.
func (s *Session) Send(ev network.Event) error {
	data, err := network.Encode(ev)
	if err != nil {
		return err
	}
	return s.Conn.Send(data)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot of the live sessions.
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}
