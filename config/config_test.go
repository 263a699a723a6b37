package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, ":8081", cfg.Server.RPCAddress)
	assert.Equal(t, 30*time.Second, cfg.Game.TurnTimeout)
	assert.Equal(t, 2*time.Second, cfg.Game.NewTurnDelay)
	assert.Equal(t, 15, cfg.Game.DefaultMaxTurns)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.BaseCooldown)
	assert.Equal(t, 15*time.Second, cfg.RateLimit.PenaltyCooldown)
	assert.Equal(t, "none", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  http_address: ":9000"
game:
  turn_timeout: 45s
  default_max_turns: 10
database:
  driver: sqlite
  sqlite:
    path: /tmp/matches.db
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("CARDDUEL_GAME_NEW_TURN_DELAY", "500ms")

	cfg, err := Load(New(), dir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.HTTPAddress)
	assert.Equal(t, 45*time.Second, cfg.Game.TurnTimeout)
	assert.Equal(t, 10, cfg.Game.DefaultMaxTurns)
	assert.Equal(t, 500*time.Millisecond, cfg.Game.NewTurnDelay)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/matches.db", cfg.Database.SQLite.Path)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(New(), t.TempDir())
	require.NoError(t, err)

	bad := *cfg
	bad.Database.Driver = "mysql"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = *cfg
	bad.Game.DefaultMaxTurns = bad.Game.MaxTurnsLimit + 1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = *cfg
	bad.Game.TurnTimeout = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "cards"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=cards sslmode=disable", p.DSN())
}
