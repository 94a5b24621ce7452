package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/models"
)

func TestConfigurationService_Upsert(t *testing.T) {
	store := newMemStore()
	s := NewConfigurationService(nil, store, logging.Nop())
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &models.TrackingConfiguration{Level: " ESO2 ", Category: "conduct", TrackingID: "T-1"}))
	require.NoError(t, s.Upsert(ctx, &models.TrackingConfiguration{Level: "ESO1", Category: "absence", TrackingID: "T-2"}))
	require.NoError(t, s.Upsert(ctx, &models.TrackingConfiguration{Level: "ESO2", Category: "conduct", TrackingID: "T-3"}))

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ESO1", got[0].Level)
	assert.Equal(t, "T-3", got[1].TrackingID)

	err = s.Upsert(ctx, &models.TrackingConfiguration{Level: "ESO1", Category: " "})
	assert.ErrorIs(t, err, common.ErrInvalidRecord)
}
