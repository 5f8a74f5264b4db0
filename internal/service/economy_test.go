package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawToMicros(t *testing.T) {
	tests := []struct {
		name     string
		raw      int64
		decimals int
		want     int64
	}{
		{"native precision", 1_000_000, 6, 1_000_000},
		{"nine decimal token", 1_000_000_000, 9, 1_000_000},
		{"nine decimal dust truncated", 1_000_000_999, 9, 1_000_000},
		{"two decimal token", 150, 2, 1_500_000},
		{"zero decimal token", 3, 0, 3_000_000},
		{"zero amount", 0, 9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rawToMicros(tt.raw, tt.decimals))
		})
	}
}

func TestComputeKillSplit(t *testing.T) {
	tests := []struct {
		name       string
		entryFee   int64
		ratePlayer float64
		wantReward int64
		wantFee    int64
	}{
		{"ninety percent", 1_000_000, 0.9, 900_000, 100_000},
		{"full share", 1_000_000, 1.0, 1_000_000, 0},
		{"zero share", 1_000_000, 0.0, 0, 1_000_000},
		{"rounds to nearest", 1_000_001, 0.5, 500_001, 500_000},
		{"rate above one clamps", 1_000_000, 1.5, 1_000_000, 0},
		{"negative rate clamps", 1_000_000, -0.1, 0, 1_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reward, fee := computeKillSplit(tt.entryFee, tt.ratePlayer)
			assert.Equal(t, tt.wantReward, reward)
			assert.Equal(t, tt.wantFee, fee)
		})
	}
}

func TestCommissionAmount(t *testing.T) {
	assert.Equal(t, int64(45_000), commissionAmount(900_000, 0.05))
	assert.Equal(t, int64(20_000), commissionAmount(1_000_000, 0.02))
	assert.Equal(t, int64(0), commissionAmount(0, 0.05))
	// Rounds to nearest micro-unit.
	assert.Equal(t, int64(1), commissionAmount(10, 0.05))
}

func TestCappedCommission(t *testing.T) {
	tests := []struct {
		name       string
		commission int64
		cap        int64
		accrued    int64
		want       int64
	}{
		{"well under cap", 45_000, 100_000_000, 0, 45_000},
		{"exactly fills cap", 45_000, 100_000, 55_000, 45_000},
		{"trimmed at cap", 45_000, 100_000, 80_000, 20_000},
		{"cap exhausted", 45_000, 100_000, 100_000, 0},
		{"cap overshot by legacy data", 45_000, 100_000, 150_000, 0},
		{"zero cap means uncapped", 45_000, 0, 999_999_999, 45_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cappedCommission(tt.commission, tt.cap, tt.accrued))
		})
	}
}
