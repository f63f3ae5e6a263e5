package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationToNextEpoch(t *testing.T) {
	tests := []struct {
		curTime      time.Time
		epochMinutes int
		wantMinutes  float64
	}{
		{time.Date(2024, 1, 1, 11, 10, 15, 0, time.UTC), 60, 49.75},
		{time.Date(2024, 1, 1, 11, 55, 15, 0, time.UTC), 60, 4.75},
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 15, 15.0},
		{time.Date(2024, 1, 1, 0, 15, 30, 0, time.UTC), 15, 14.5},
		{time.Date(2024, 1, 1, 0, 30, 45, 0, time.UTC), 15, 14.25},
		{time.Date(2024, 1, 1, 0, 45, 0, 0, time.UTC), 15, 15.0},
		{time.Date(2024, 1, 1, 0, 7, 30, 0, time.UTC), 15, 7.5},
		{time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC), 30, 15.0},
		{time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC), 60, 30.0},
		{time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), 1440, 720.0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%dm", tt.curTime.Format("15:04:05"), tt.epochMinutes), func(t *testing.T) {
			dur := durationToNextEpoch(tt.curTime, tt.epochMinutes)
			assert.InDelta(t, tt.wantMinutes, dur.Minutes(), 0.001)
		})
	}
}
