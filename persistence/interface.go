// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/cardduel/config"
	"github.com/wfunc/cardduel/models"
)

// Database 对局记录存储接口
type Database interface {
	SaveMatchRecord(ctx context.Context, rec models.MatchRecord) error
	ListRecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error)
	GetOutcomeStats(ctx context.Context) (models.OutcomeStats, error)
	Close() error
}

// 错误定义
var (
	ErrUnknownDriver = errors.New("unknown database driver")
)

// Open 根据配置选择存储实现
func Open(cfg config.DatabaseConfig) (Database, error) {
	switch cfg.Driver {
	case "", "none":
		return NewNopDatabase(), nil
	case "sqlite":
		return NewSQLite(cfg.SQLite.Path)
	case "postgres":
		return NewPostgreSQL(cfg.Postgres.DSN())
	case "gorm":
		return NewGormPostgreSQL(cfg.Postgres.DSN())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// newOutcomeStats returns stats with an initialised outcome map.
func newOutcomeStats() models.OutcomeStats {
	return models.OutcomeStats{ByOutcome: make(map[models.Outcome]int)}
}

// NopDatabase drops every record. Used when no driver is configured.
type NopDatabase struct{}

func NewNopDatabase() *NopDatabase { return &NopDatabase{} }

func (NopDatabase) SaveMatchRecord(context.Context, models.MatchRecord) error { return nil }

func (NopDatabase) ListRecentMatches(context.Context, int) ([]models.MatchRecord, error) {
	return []models.MatchRecord{}, nil
}

func (NopDatabase) GetOutcomeStats(context.Context) (models.OutcomeStats, error) {
	return newOutcomeStats(), nil
}

func (NopDatabase) Close() error { return nil }
