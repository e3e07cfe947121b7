package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestListActiveFriendLinks_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewFriendRepository(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"user_id", "friend_id", "friend_name", "friend_phone", "friend_address"}).
		AddRow("observer-1", "elder-1", "Kim", "010-1234-5678", "Seoul").
		AddRow("observer-2", "elder-1", "Kim", "010-1234-5678", "Seoul").
		AddRow("observer-1", "elder-2", "elder-2", "", "")

	mock.ExpectQuery(`SELECT .* FROM friends f .* WHERE f.status = 'active'`).
		WillReturnRows(rows)

	links, err := repo.ListActiveFriendLinks(context.Background())
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, "observer-2", links[1].ObserverID)
	assert.Equal(t, "elder-1", links[1].FriendID)
	assert.Equal(t, "Kim", links[1].FriendName)
	assert.Equal(t, "010-1234-5678", links[1].FriendPhone)
	assert.Equal(t, "Seoul", links[1].FriendAddress)
	assert.Empty(t, links[2].FriendPhone)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveFriendLinks_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewFriendRepository(db, zap.NewNop())
	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("timeout"))

	_, err = repo.ListActiveFriendLinks(context.Background())
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

func TestLoadThresholds_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewThresholdRepository(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"warning_minutes", "danger_minutes", "emergency_minutes"}).
		AddRow(720, 1440, 2160)
	mock.ExpectQuery(`FROM notification_settings`).WillReturnRows(rows)

	cfg, err := repo.LoadThresholds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ThresholdConfig{
		Warning:   720 * time.Minute,
		Danger:    1440 * time.Minute,
		Emergency: 2160 * time.Minute,
	}, cfg)
}

func TestLoadThresholds_NoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewThresholdRepository(db, zap.NewNop())
	mock.ExpectQuery(`FROM notification_settings`).
		WillReturnRows(sqlmock.NewRows([]string{"warning_minutes", "danger_minutes", "emergency_minutes"}))

	_, err = repo.LoadThresholds(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
}
