package reti

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promNumPools = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "reti",
		Name:      "pool_count",
	})
	promNumStakers = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "reti",
		Name:      "staker_count",
	})
	promTotalStaked = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "reti",
		Name:      "staked_total",
	})
	promRewardAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "reti",
		Name:      "reward_available",
	})
	promTokenHeldBack = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "reti",
		Name:      "reward_token_held_back",
	})
)

// UpdateMetricsFromState republishes the prometheus gauges from a freshly
// loaded aggregate state (called by the daemon refresh loop).
func UpdateMetricsFromState(state ValidatorCurState, rewardAvail uint64) {
	promNumPools.Set(float64(state.NumPools))
	promNumStakers.Set(float64(state.TotalStakers))
	promTotalStaked.Set(float64(state.TotalAlgoStaked) / 1e6)
	promRewardAvailable.Set(float64(rewardAvail) / 1e6)
	promTokenHeldBack.Set(float64(state.RewardTokenHeldBack))
}
