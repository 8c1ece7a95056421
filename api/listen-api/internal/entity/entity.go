// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_entity

import "time"

// SessionType distinguishes why a session exists.
type SessionType string

const (
	SessionTypeListen SessionType = "continuous-listen"
	SessionTypeAsk    SessionType = "ask"
)

// Session is one recorded conversation. A user has at most one active
// session per type; ending it stamps EndedAt.
type Session struct {
	ID        string      `gorm:"column:id;primaryKey"`
	UID       string      `gorm:"column:uid;index:idx_sessions_uid_type"`
	Title     string      `gorm:"column:title"`
	Type      SessionType `gorm:"column:session_type;index:idx_sessions_uid_type"`
	StartedAt time.Time   `gorm:"column:started_at"`
	EndedAt   *time.Time  `gorm:"column:ended_at"`
	UpdatedAt time.Time   `gorm:"column:updated_at"`
}

func (Session) TableName() string { return "sessions" }

// Transcript is one finalized turn within a session.
type Transcript struct {
	ID        string    `gorm:"column:id;primaryKey"`
	SessionID string    `gorm:"column:session_id;index"`
	Speaker   string    `gorm:"column:speaker"`
	Text      string    `gorm:"column:text"`
	StartAt   time.Time `gorm:"column:start_at"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Transcript) TableName() string { return "transcripts" }
