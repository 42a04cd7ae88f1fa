package routing

// Reward weights. A successful call always earns the success share; cost
// and latency shares shrink linearly up to their normalization caps.
const (
	rewardCostWeight    = 0.3
	rewardLatencyWeight = 0.3
	rewardSuccessWeight = 0.4

	// rewardCostCap is the call cost at which the cost share reaches zero.
	rewardCostCap = 0.1

	// minLatencyBudgetMs floors the latency normalization budget.
	minLatencyBudgetMs = 1000
)

// ComputeReward maps an outcome to [0, 1]. Failures earn nothing.
func ComputeReward(latencyMs, cost float64, success bool, latencyBudgetMs float64) float64 {
	if !success {
		return 0
	}
	costNorm := min(max(cost, 0)/rewardCostCap, 1)
	budget := max(latencyBudgetMs, minLatencyBudgetMs)
	latencyNorm := min(max(latencyMs, 0)/budget, 1)
	return (1-costNorm)*rewardCostWeight + (1-latencyNorm)*rewardLatencyWeight + rewardSuccessWeight
}
