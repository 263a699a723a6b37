package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/cardduel/models"
	"github.com/wfunc/cardduel/persistence"
)

// MockDatabase is a test double for persistence.Database.
type MockDatabase struct {
	mu      sync.Mutex
	records []models.MatchRecord
	failFor string
	block   chan struct{}
}

func (m *MockDatabase) SaveMatchRecord(ctx context.Context, rec models.MatchRecord) error {
	if m.block != nil {
		<-m.block
	}
	if rec.RoomCode == m.failFor {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MockDatabase) ListRecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.MatchRecord(nil), m.records...), nil
}

func (m *MockDatabase) GetOutcomeStats(ctx context.Context) (models.OutcomeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.OutcomeStats{TotalGames: len(m.records)}, nil
}

func (m *MockDatabase) Close() error { return nil }

var _ persistence.Database = (*MockDatabase)(nil)

func TestMatchService_RecordsInOrder(t *testing.T) {
	db := &MockDatabase{}
	svc := NewMatchService(db, 8)

	svc.Record(models.MatchRecord{RoomCode: "AAAAAA", Outcome: models.OutcomeWin})
	svc.Record(models.MatchRecord{RoomCode: "BBBBBB", Outcome: models.OutcomeDraw})
	svc.Close()

	recs, err := svc.RecentMatches(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "AAAAAA", recs[0].RoomCode)
	assert.Equal(t, "BBBBBB", recs[1].RoomCode)
	assert.Equal(t, int64(2), svc.Saved())

	stats, err := svc.OutcomeStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalGames)
}

func TestMatchService_FailureDoesNotStopWorker(t *testing.T) {
	db := &MockDatabase{failFor: "BAD000"}
	svc := NewMatchService(db, 8)

	svc.Record(models.MatchRecord{RoomCode: "BAD000"})
	svc.Record(models.MatchRecord{RoomCode: "GOOD00"})
	svc.Close()

	require.Len(t, db.records, 1)
	assert.Equal(t, "GOOD00", db.records[0].RoomCode)
	assert.Equal(t, int64(1), svc.Saved())
}

func TestMatchService_FullQueueDrops(t *testing.T) {
	db := &MockDatabase{block: make(chan struct{})}
	svc := NewMatchService(db, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			svc.Record(models.MatchRecord{RoomCode: "SLOW00"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	assert.Positive(t, svc.Dropped())

	close(db.block)
	svc.Close()
}

func TestMatchService_RecordAfterClose(t *testing.T) {
	svc := NewMatchService(&MockDatabase{}, 4)
	svc.Close()
	svc.Close()

	assert.NotPanics(t, func() { svc.Record(models.MatchRecord{RoomCode: "LATE00"}) })
	assert.Equal(t, int64(1), svc.Dropped())
}
