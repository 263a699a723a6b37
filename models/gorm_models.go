// models/gorm_models.go
package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// GormMatchRecord 对局记录模型
type GormMatchRecord struct {
	gorm.Model
	RoomCode     string `gorm:"index;not null"`
	Secret       string `gorm:"not null"`
	Outcome      string `gorm:"index;not null"`
	WinnerRole   string
	Turns        int    `gorm:"default:0"`
	MaxTurns     int    `gorm:"default:0"`
	HintsEnabled bool
	IsPublic     bool
	Players      string `gorm:"type:jsonb;not null"`
	DurationMS   int64  `gorm:"default:0"`
}

func (GormMatchRecord) TableName() string {
	return "match_records"
}

// NewGormMatchRecord flattens a MatchRecord into its table row.
func NewGormMatchRecord(rec MatchRecord) (GormMatchRecord, error) {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return GormMatchRecord{}, err
	}
	row := GormMatchRecord{
		RoomCode:     rec.RoomCode,
		Secret:       rec.Secret,
		Outcome:      string(rec.Outcome),
		WinnerRole:   string(rec.WinnerRole),
		Turns:        rec.Turns,
		MaxTurns:     rec.Settings.MaxTurns,
		HintsEnabled: rec.Settings.HintsEnabled,
		IsPublic:     rec.Settings.IsPublic,
		Players:      string(players),
		DurationMS:   rec.Duration.Milliseconds(),
	}
	if !rec.CreatedAt.IsZero() {
		row.CreatedAt = rec.CreatedAt
	}
	return row, nil
}

// ToRecord is the inverse of NewGormMatchRecord.
func (m GormMatchRecord) ToRecord() (MatchRecord, error) {
	var players []PlayerInfo
	if m.Players != "" {
		if err := json.Unmarshal([]byte(m.Players), &players); err != nil {
			return MatchRecord{}, err
		}
	}
	return MatchRecord{
		RoomCode:   m.RoomCode,
		Secret:     m.Secret,
		Outcome:    Outcome(m.Outcome),
		WinnerRole: Role(m.WinnerRole),
		Turns:      m.Turns,
		Settings: Settings{
			MaxTurns:     m.MaxTurns,
			HintsEnabled: m.HintsEnabled,
			IsPublic:     m.IsPublic,
		},
		Players:   players,
		Duration:  time.Duration(m.DurationMS) * time.Millisecond,
		CreatedAt: m.CreatedAt,
	}, nil
}
