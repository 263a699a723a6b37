// persistence/sql_store.go
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"
	// 纯 Go SQLite 驱动
	_ "modernc.org/sqlite"

	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/models"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// SQLStore 基于 database/sql 的实现, shared by the postgres and sqlite drivers.
type SQLStore struct {
	db      *sql.DB
	dialect goose.Dialect
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接 (lib/pq)
func NewPostgreSQL(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStore(db, goose.DialectPostgres, "migrations/postgres")
}

// NewSQLite opens (or creates) an SQLite database file. ":memory:" is allowed.
func NewSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection: :memory: databases are per-connection and sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	return newSQLStore(db, goose.DialectSQLite3, "migrations/sqlite")
}

func newSQLStore(db *sql.DB, dialect goose.Dialect, dir string) (*SQLStore, error) {
	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(ctx, db, dialect, dir); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// migrate 执行内嵌的 goose 迁移
func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(embedMigrations, dir)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		logger.Log.Infof("migration applied: %s (%v)", r.Source.Path, r.Duration)
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != goose.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveMatchRecord 保存对局记录
func (s *SQLStore) SaveMatchRecord(ctx context.Context, rec models.MatchRecord) error {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO match_records
            (room_code, secret, outcome, winner_role, turns, max_turns, hints_enabled, is_public, players, duration_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.RoomCode,
		rec.Secret,
		string(rec.Outcome),
		string(rec.WinnerRole),
		rec.Turns,
		rec.Settings.MaxTurns,
		rec.Settings.HintsEnabled,
		rec.Settings.IsPublic,
		string(players),
		rec.Duration.Milliseconds(),
		createdAt.UTC(),
	)
	return err
}

// ListRecentMatches 最近的对局, newest first
func (s *SQLStore) ListRecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
        SELECT room_code, secret, outcome, winner_role, turns, max_turns, hints_enabled, is_public, players, duration_ms, created_at
        FROM match_records
        ORDER BY created_at DESC, id DESC
        LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.MatchRecord, 0, limit)
	for rows.Next() {
		var (
			rec        models.MatchRecord
			outcome    string
			winnerRole string
			players    string
			durationMS int64
		)
		if err := rows.Scan(
			&rec.RoomCode,
			&rec.Secret,
			&outcome,
			&winnerRole,
			&rec.Turns,
			&rec.Settings.MaxTurns,
			&rec.Settings.HintsEnabled,
			&rec.Settings.IsPublic,
			&players,
			&durationMS,
			scanTime{&rec.CreatedAt},
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(players), &rec.Players); err != nil {
			return nil, fmt.Errorf("decode players of %s: %w", rec.RoomCode, err)
		}
		rec.Outcome = models.Outcome(outcome)
		rec.WinnerRole = models.Role(winnerRole)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetOutcomeStats 汇总对局结果
func (s *SQLStore) GetOutcomeStats(ctx context.Context) (models.OutcomeStats, error) {
	stats := newOutcomeStats()

	rows, err := s.db.QueryContext(ctx, `
        SELECT outcome, COUNT(*), COALESCE(SUM(turns), 0)
        FROM match_records
        GROUP BY outcome`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	var turns int64
	for rows.Next() {
		var (
			outcome string
			n       int
			sum     int64
		)
		if err := rows.Scan(&outcome, &n, &sum); err != nil {
			return stats, err
		}
		stats.ByOutcome[models.Outcome(outcome)] = n
		stats.TotalGames += n
		turns += sum
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	winRows, err := s.db.QueryContext(ctx, s.rebind(`
        SELECT winner_role, COUNT(*)
        FROM match_records
        WHERE outcome = ?
        GROUP BY winner_role`), string(models.OutcomeWin))
	if err != nil {
		return stats, err
	}
	defer winRows.Close()

	for winRows.Next() {
		var (
			role string
			n    int
		)
		if err := winRows.Scan(&role, &n); err != nil {
			return stats, err
		}
		switch models.Role(role) {
		case models.RoleHost:
			stats.HostWins = n
		case models.RoleChallenger:
			stats.ChallengerWins = n
		}
	}

	if stats.TotalGames > 0 {
		stats.AvgTurns = float64(turns) / float64(stats.TotalGames)
	}
	return stats, winRows.Err()
}

// scanTime accepts the timestamp representations of both drivers.
type scanTime struct {
	t *time.Time
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (s scanTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.t = v
		return nil
	case int64:
		*s.t = time.Unix(v, 0).UTC()
		return nil
	case nil:
		*s.t = time.Time{}
		return nil
	case []byte:
		return s.parse(string(v))
	case string:
		return s.parse(v)
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (s scanTime) parse(v string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			*s.t = t
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", v)
}

// Close 关闭数据库连接
func (s *SQLStore) Close() error {
	return s.db.Close()
}
