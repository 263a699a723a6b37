// solo/solo.go
package solo

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/cardduel/catalog"
	"github.com/wfunc/cardduel/logger"
)

var ErrGameNotFound = errors.New("game not found")

// Feedback 单人模式的反馈，多了结束标记和失败时的答案
type Feedback struct {
	catalog.Feedback
	IsGameOver bool          `json:"isGameOver"`
	SecretItem *catalog.Item `json:"secretItem,omitempty"`
}

type Attempts struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// GuessResult is the reply to one single-player guess.
type GuessResult struct {
	Feedback Feedback       `json:"feedback"`
	Hints    []catalog.Hint `json:"hints"`
	Attempts Attempts       `json:"attempts"`
}

type game struct {
	secret     catalog.Item
	attempts   int
	lastActive time.Time
}

// Store 单人游戏存储
type Store struct {
	mu          sync.Mutex
	games       map[string]*game
	catalog     *catalog.Catalog
	maxAttempts int
	ttl         time.Duration

	now        func() time.Time
	pickSecret func(*catalog.Catalog) catalog.Item
}

func NewStore(cat *catalog.Catalog, maxAttempts int, ttl time.Duration) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 15
	}
	return &Store{
		games:       make(map[string]*game),
		catalog:     cat,
		maxAttempts: maxAttempts,
		ttl:         ttl,
		now:         time.Now,
		pickSecret:  func(c *catalog.Catalog) catalog.Item { return c.Random() },
	}
}

func (s *Store) MaxAttempts() int {
	return s.maxAttempts
}

// Start 创建一局新游戏并返回其id
func (s *Store) Start() string {
	id := uuid.NewString()
	secret := s.pickSecret(s.catalog)

	s.mu.Lock()
	s.games[id] = &game{secret: secret, lastActive: s.now()}
	s.mu.Unlock()

	logger.Log.Debugf("Solo game %s started, secret %s", id, secret.Name)
	return id
}

// Guess scores guessName for game id. The game is forgotten once it is over.
func (s *Store) Guess(id, guessName string) (GuessResult, error) {
	item, ok := s.catalog.Lookup(guessName)
	if !ok {
		return GuessResult{}, catalog.ErrItemNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return GuessResult{}, ErrGameNotFound
	}
	g.attempts++
	g.lastActive = s.now()

	fb := Feedback{Feedback: catalog.Compare(item, g.secret)}
	fb.IsGameOver = fb.IsWin || g.attempts >= s.maxAttempts
	if fb.IsGameOver {
		if !fb.IsWin {
			secret := g.secret
			fb.SecretItem = &secret
		}
		delete(s.games, id)
	}

	return GuessResult{
		Feedback: fb,
		Hints:    catalog.Hints(g.secret, g.attempts),
		Attempts: Attempts{Current: g.attempts, Max: s.maxAttempts},
	}, nil
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.games)
}

// Reap drops games idle for longer than the ttl and reports how many went.
func (s *Store) Reap() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, g := range s.games {
		if g.lastActive.Before(cutoff) {
			delete(s.games, id)
			n++
		}
	}
	return n
}

// RunReaper reaps every ttl/2 until stop is closed.
func (s *Store) RunReaper(stop <-chan struct{}) {
	if s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := s.Reap(); n > 0 {
				logger.Log.Infof("Reaped %d idle solo games", n)
			}
		}
	}
}
