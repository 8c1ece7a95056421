// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	internal_entity "github.com/auricleai/api/listen-api/internal/entity"
	"github.com/auricleai/pkg/commons"
	"github.com/auricleai/pkg/connectors"
)

// Store persists sessions and their finalized transcripts.
type Store interface {
	// GetOrCreateActiveSession returns the user's active session of the
	// given type, creating one when none exists.
	GetOrCreateActiveSession(ctx context.Context, uid string, sessionType internal_entity.SessionType) (*internal_entity.Session, error)
	// Touch bumps the session's updated_at.
	Touch(ctx context.Context, sessionID string) error
	// AddTranscript records one finalized turn.
	AddTranscript(ctx context.Context, sessionID, speaker, text string) error
	// Transcripts returns the session's turns in insertion order.
	Transcripts(ctx context.Context, sessionID string) ([]internal_entity.Transcript, error)
	// EndSession stamps ended_at; ending an already-ended session is a no-op.
	EndSession(ctx context.Context, sessionID string) error
}

type store struct {
	logger    commons.Logger
	connector connectors.SqliteConnector
}

// NewStore builds a Store and migrates the schema.
func NewStore(logger commons.Logger, connector connectors.SqliteConnector) (Store, error) {
	if err := connector.DB(context.Background()).AutoMigrate(
		&internal_entity.Session{},
		&internal_entity.Transcript{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate session schema: %w", err)
	}
	return &store{logger: logger, connector: connector}, nil
}

func (s *store) GetOrCreateActiveSession(ctx context.Context, uid string, sessionType internal_entity.SessionType) (*internal_entity.Session, error) {
	db := s.connector.DB(ctx)

	var session internal_entity.Session
	err := db.
		Where("uid = ? AND session_type = ? AND ended_at IS NULL", uid, sessionType).
		Order("started_at DESC").
		First(&session).Error
	if err == nil {
		s.logger.Debugf("reusing active %s session %s for %s", sessionType, session.ID, uid)
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}

	now := time.Now()
	session = internal_entity.Session{
		ID:        uuid.NewString(),
		UID:       uid,
		Title:     fmt.Sprintf("Session @ %s", now.Format("Jan 2, 3:04 PM")),
		Type:      sessionType,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.logger.Infof("created %s session %s for %s", sessionType, session.ID, uid)
	return &session, nil
}

func (s *store) Touch(ctx context.Context, sessionID string) error {
	return s.connector.DB(ctx).
		Model(&internal_entity.Session{}).
		Where("id = ?", sessionID).
		Update("updated_at", time.Now()).Error
}

func (s *store) AddTranscript(ctx context.Context, sessionID, speaker, text string) error {
	now := time.Now()
	record := internal_entity.Transcript{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Speaker:   speaker,
		Text:      text,
		StartAt:   now,
		CreatedAt: now,
	}
	if err := s.connector.DB(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to persist transcript: %w", err)
	}
	return s.Touch(ctx, sessionID)
}

func (s *store) Transcripts(ctx context.Context, sessionID string) ([]internal_entity.Transcript, error) {
	var records []internal_entity.Transcript
	err := s.connector.DB(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transcripts: %w", err)
	}
	return records, nil
}

func (s *store) EndSession(ctx context.Context, sessionID string) error {
	now := time.Now()
	return s.connector.DB(ctx).
		Model(&internal_entity.Session{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Updates(map[string]interface{}{"ended_at": now, "updated_at": now}).Error
}
