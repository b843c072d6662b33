package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampLotSize_ValidPassesThrough(t *testing.T) {
	got, err := ClampLotSize(DefaultVolumeSpec(), 0.10)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, got, 1e-9)
}

func TestClampLotSize_BelowMinimum(t *testing.T) {
	got, err := ClampLotSize(DefaultVolumeSpec(), 0.001)
	require.Error(t, err)
	assert.InDelta(t, 0.01, got, 1e-9)
}

func TestClampLotSize_AboveMaximum(t *testing.T) {
	got, err := ClampLotSize(DefaultVolumeSpec(), 150)
	require.Error(t, err)
	assert.InDelta(t, 100.0, got, 1e-9)
}

func TestClampLotSize_AlignsToStep(t *testing.T) {
	got, err := ClampLotSize(DefaultVolumeSpec(), 0.013)
	require.Error(t, err)
	assert.InDelta(t, 0.01, got, 1e-9)

	got, err = ClampLotSize(&VolumeSpec{MinLot: 0.1, MaxLot: 50, LotStep: 0.1}, 0.37)
	require.Error(t, err)
	assert.InDelta(t, 0.4, got, 1e-9)
}

func TestClampLotSize_ZeroFallsToMinimum(t *testing.T) {
	got, err := ClampLotSize(DefaultVolumeSpec(), 0)
	require.Error(t, err)
	assert.InDelta(t, 0.01, got, 1e-9)
}

func TestClampLotSize_InvalidSpec(t *testing.T) {
	_, err := ClampLotSize(nil, 0.10)
	require.Error(t, err)
	assert.Equal(t, ErrSpecMissing, CodeOf(err))

	_, err = ClampLotSize(&VolumeSpec{MinLot: 1, MaxLot: 0.5, LotStep: 0.01}, 0.10)
	require.Error(t, err)

	_, err = ClampLotSize(&VolumeSpec{MinLot: 0.01, MaxLot: 100, LotStep: 0}, 0.10)
	require.Error(t, err)
}
