package internal_repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_entity "github.com/auricleai/api/listen-api/internal/entity"
	"github.com/auricleai/pkg/commons"
	"github.com/auricleai/pkg/connectors"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	connector, err := connectors.NewSqliteConnector("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = connector.Close() })

	s, err := NewStore(commons.NewNopLogger(), connector)
	require.NoError(t, err)
	return s
}

func TestGetOrCreateActiveSessionReusesOpenSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateActiveSession(ctx, "user-1", internal_entity.SessionTypeListen)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := s.GetOrCreateActiveSession(ctx, "user-1", internal_entity.SessionTypeListen)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateActiveSessionIsolatesUsersAndTypes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	listen, err := s.GetOrCreateActiveSession(ctx, "user-1", internal_entity.SessionTypeListen)
	require.NoError(t, err)

	ask, err := s.GetOrCreateActiveSession(ctx, "user-1", internal_entity.SessionTypeAsk)
	require.NoError(t, err)
	assert.NotEqual(t, listen.ID, ask.ID)

	other, err := s.GetOrCreateActiveSession(ctx, "user-2", internal_entity.SessionTypeListen)
	require.NoError(t, err)
	assert.NotEqual(t, listen.ID, other.ID)
}

func TestEndSessionThenNewSessionIsCreated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateActiveSession(ctx, "user-1", internal_entity.SessionTypeListen)
	require.NoError(t, err)
	require.NoError(t, s.EndSession(ctx, first.ID))

	// Ending twice is harmless.
	require.NoError(t, s.EndSession(ctx, first.ID))

	second, err := s.GetOrCreateActiveSession(ctx, "user-1", internal_entity.SessionTypeListen)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAddTranscriptPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.GetOrCreateActiveSession(ctx, "user-1", internal_entity.SessionTypeListen)
	require.NoError(t, err)

	require.NoError(t, s.AddTranscript(ctx, session.ID, "Me", "hello"))
	require.NoError(t, s.AddTranscript(ctx, session.ID, "Them", "hi there"))
	require.NoError(t, s.AddTranscript(ctx, session.ID, "AI", "summary"))

	records, err := s.Transcripts(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Me", records[0].Speaker)
	assert.Equal(t, "hello", records[0].Text)
	assert.Equal(t, "AI", records[2].Speaker)
}
