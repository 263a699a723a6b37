// services/match_service.go
package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/models"
	"github.com/wfunc/cardduel/persistence"
)

const saveTimeout = 5 * time.Second

// MatchService 对局记录服务. Record is non-blocking; a single worker writes to the database.
type MatchService struct {
	db      persistence.Database
	queue   chan models.MatchRecord
	wg      sync.WaitGroup
	mutex   sync.RWMutex
	closed  bool
	dropped atomic.Int64
	saved   atomic.Int64
}

func NewMatchService(db persistence.Database, queueSize int) *MatchService {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &MatchService{
		db:    db,
		queue: make(chan models.MatchRecord, queueSize),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Record queues rec for persistence. A full queue drops the record.
func (s *MatchService) Record(rec models.MatchRecord) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
		logger.Log.Warnf("match queue full, dropping record of room %s", rec.RoomCode)
	}
}

func (s *MatchService) worker() {
	defer s.wg.Done()
	for rec := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := s.db.SaveMatchRecord(ctx, rec)
		cancel()
		if err != nil {
			logger.Log.Errorf("save match record of room %s: %v", rec.RoomCode, err)
			continue
		}
		s.saved.Add(1)
		logger.Log.Debugf("match record of room %s saved (%s)", rec.RoomCode, rec.Outcome)
	}
}

// Close flushes queued records and stops the worker.
func (s *MatchService) Close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mutex.Unlock()

	s.wg.Wait()
}

// Dropped is the number of records that were never queued.
func (s *MatchService) Dropped() int64 {
	return s.dropped.Load()
}

// Saved is the number of records written successfully.
func (s *MatchService) Saved() int64 {
	return s.saved.Load()
}

// RecentMatches 最近的对局
func (s *MatchService) RecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	return s.db.ListRecentMatches(ctx, limit)
}

// OutcomeStats 对局结果统计
func (s *MatchService) OutcomeStats(ctx context.Context) (models.OutcomeStats, error) {
	return s.db.GetOutcomeStats(ctx)
}
