// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/cardduel/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(dsn string) (*GormPostgreSQL, error) {
	return NewGorm(postgres.Open(dsn))
}

// NewGorm opens any gorm dialector and migrates the match table.
func NewGorm(dialector gorm.Dialector) (*GormPostgreSQL, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		// 配置GORM日志
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := db.AutoMigrate(&models.GormMatchRecord{}); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// SaveMatchRecord 保存对局记录
func (p *GormPostgreSQL) SaveMatchRecord(ctx context.Context, rec models.MatchRecord) error {
	row, err := models.NewGormMatchRecord(rec)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Create(&row).Error
}

// ListRecentMatches 最近的对局
func (p *GormPostgreSQL) ListRecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.GormMatchRecord
	if err := p.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]models.MatchRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.ToRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetOutcomeStats 汇总对局结果
func (p *GormPostgreSQL) GetOutcomeStats(ctx context.Context) (models.OutcomeStats, error) {
	stats := newOutcomeStats()

	var byOutcome []struct {
		Outcome string
		Games   int
		Turns   int64
	}
	err := p.db.WithContext(ctx).Model(&models.GormMatchRecord{}).
		Select("outcome, COUNT(*) AS games, COALESCE(SUM(turns), 0) AS turns").
		Group("outcome").
		Scan(&byOutcome).Error
	if err != nil {
		return stats, err
	}

	var turns int64
	for _, row := range byOutcome {
		stats.ByOutcome[models.Outcome(row.Outcome)] = row.Games
		stats.TotalGames += row.Games
		turns += row.Turns
	}

	var wins []struct {
		WinnerRole string
		Games      int
	}
	err = p.db.WithContext(ctx).Model(&models.GormMatchRecord{}).
		Select("winner_role, COUNT(*) AS games").
		Where("outcome = ?", string(models.OutcomeWin)).
		Group("winner_role").
		Scan(&wins).Error
	if err != nil {
		return stats, err
	}
	for _, row := range wins {
		switch models.Role(row.WinnerRole) {
		case models.RoleHost:
			stats.HostWins = row.Games
		case models.RoleChallenger:
			stats.ChallengerWins = row.Games
		}
	}

	if stats.TotalGames > 0 {
		stats.AvgTurns = float64(turns) / float64(stats.TotalGames)
	}
	return stats, nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
