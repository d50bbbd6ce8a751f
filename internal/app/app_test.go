package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/config"
	"controlled-docs/edms-backend/internal/models"
)

func TestNewWithMemoryDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "memory"

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	require.NotNil(t, a.Engine)

	system, err := a.Repo.GetUser(context.Background(), models.SystemUserID)
	require.NoError(t, err)
	assert.True(t, system.IsSystem())
}

func TestAssignmentConfig(t *testing.T) {
	c := AssignmentConfig(config.Default().Assignment)
	assert.Equal(t, 3, c.Review.LowMax)
	assert.Equal(t, 7, c.Review.NormalMax)
	assert.Equal(t, 10, c.Review.Capacity)
	assert.Equal(t, 2, c.Approval.LowMax)
	assert.Equal(t, 4, c.Approval.NormalMax)
	assert.Equal(t, 6, c.Approval.Capacity)
}
