package backfill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeStartUsesStoreWatermarkWhenPresent(t *testing.T) {
	got := computeStart(500, 1000, 0, nil)
	require.Equal(t, uint64(500), got)
}

func TestComputeStartFallsBackToConfiguredStartWhenStoreEmpty(t *testing.T) {
	got := computeStart(-1, 1000, 200, nil)
	require.Equal(t, uint64(200), got)
}

func TestComputeStartDefaultsToZeroWhenNothingConfigured(t *testing.T) {
	got := computeStart(-1, 1000, 0, nil)
	require.Equal(t, uint64(0), got)
}

func TestComputeStartRespectsBlocksFromTipCap(t *testing.T) {
	cap := uint64(100)
	got := computeStart(-1, 1000, 0, &cap)
	require.Equal(t, uint64(900), got)
}

func TestComputeStartBlocksFromTipNeverGoesBelowStoreWatermark(t *testing.T) {
	cap := uint64(100)
	got := computeStart(950, 1000, 0, &cap)
	require.Equal(t, uint64(950), got, "store watermark is ahead of the tip-relative floor and must win")
}

func TestComputeStartBlocksFromTipNeverGoesBelowConfiguredStart(t *testing.T) {
	cap := uint64(950)
	got := computeStart(-1, 1000, 80, &cap)
	require.Equal(t, uint64(80), got, "configured start is higher than the tip-relative floor (tip-950=50) and must win")
}

func TestComputeStartBlocksFromTipCapLargerThanTipClampsToZero(t *testing.T) {
	cap := uint64(5000)
	got := computeStart(-1, 1000, 0, &cap)
	require.Equal(t, uint64(0), got)
}
