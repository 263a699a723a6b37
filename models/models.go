// models/models.go
package models

import (
	"time"
)

// Settings 房间设置，由创建者提供
type Settings struct {
	MaxTurns     int  `json:"maxTurns" mapstructure:"max_turns"`
	HintsEnabled bool `json:"hintsEnabled" mapstructure:"hints_enabled"`
	IsPublic     bool `json:"isPublic" mapstructure:"is_public"`
}

// Role is the seat a participant took: the first joiner hosts.
type Role string

const (
	RoleHost       Role = "host"
	RoleChallenger Role = "challenger"
)

// Outcome is how a match ended.
type Outcome string

const (
	OutcomeWin        Outcome = "win"
	OutcomeDraw       Outcome = "draw"
	OutcomeExhausted  Outcome = "exhausted"
	OutcomeAbandoned  Outcome = "abandoned"
	OutcomeHostLeft   Outcome = "host_left"
	OutcomeIdleReaped Outcome = "idle"
)

// RoomSummary 公开房间列表中的一项
type RoomSummary struct {
	RoomCode     string    `json:"roomCode"`
	Settings     Settings  `json:"settings"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// MatchRecord 对局记录
type MatchRecord struct {
	RoomCode   string        `json:"room_code"`
	Secret     string        `json:"secret"`
	Outcome    Outcome       `json:"outcome"`
	WinnerRole Role          `json:"winner_role,omitempty"`
	Turns      int           `json:"turns"`
	Settings   Settings      `json:"settings"`
	Players    []PlayerInfo  `json:"players"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// PlayerInfo 玩家信息（用于对局记录）
type PlayerInfo struct {
	ParticipantID string `json:"participant_id"`
	Role          Role   `json:"role"`
	LastGuess     string `json:"last_guess,omitempty"`
}

// OutcomeStats aggregates recorded matches.
type OutcomeStats struct {
	TotalGames     int             `json:"total_games"`
	ByOutcome      map[Outcome]int `json:"by_outcome"`
	HostWins       int             `json:"host_wins"`
	ChallengerWins int             `json:"challenger_wins"`
	AvgTurns       float64         `json:"avg_turns"`
}
