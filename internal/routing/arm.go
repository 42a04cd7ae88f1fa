package routing

import "time"

// Identity names an arm and the upstream it routes to.
type Identity struct {
	ID string `json:"id" yaml:"id"`
	// InstanceID names the provider instance the call is sent through.
	InstanceID string `json:"instance_id" yaml:"instance_id"`
	// ProviderModelID is the model id sent upstream.
	ProviderModelID string `json:"provider_model_id" yaml:"provider_model_id"`
	Provider        string `json:"provider" yaml:"provider"`
	Capability      string `json:"capability" yaml:"capability"`
	Model           string `json:"model" yaml:"model"`
}

// Strategy holds the per-arm exploration rate and Beta prior.
type Strategy struct {
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`
	Alpha   float64 `json:"alpha" yaml:"alpha"`
	Beta    float64 `json:"beta" yaml:"beta"`
}

// Stats are the learned statistics of an arm. Only Report mutates them.
type Stats struct {
	TotalTrials         int64     `json:"total_trials"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	SuccessRate         float64   `json:"success_rate"`
	AvgLatencyMs        float64   `json:"avg_latency_ms"`
	LatencyP95Ms        float64   `json:"latency_p95_ms"`
	TotalCost           float64   `json:"total_cost"`
	LastReward          float64   `json:"last_reward"`
	CooldownUntil       time.Time `json:"cooldown_until,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	P95                 Quantile  `json:"p95_state"`
}

// Arm is one routable upstream endpoint together with its statistics.
// Version increases by one on every accepted write.
type Arm struct {
	Identity
	Weight   float64 `json:"weight"`
	Priority int     `json:"priority"`
	Active   bool    `json:"active"`
	Strategy
	Stats
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InCooldown reports whether the arm is cooling down at now.
func (a *Arm) InCooldown(now time.Time) bool {
	return !a.CooldownUntil.IsZero() && now.Before(a.CooldownUntil)
}

// Selectable reports whether the arm may be chosen at now.
func (a *Arm) Selectable(now time.Time) bool {
	return a.Active && !a.InCooldown(now)
}

// Matches reports whether the arm serves capability and model. Empty
// arguments match anything.
func (a *Arm) Matches(capability, model string) bool {
	return (capability == "" || a.Capability == capability) &&
		(model == "" || a.Model == model)
}

// Request asks the router for an arm.
type Request struct {
	Capability string
	Model      string
	// Exclude lists arm ids that must not be chosen, typically arms that
	// already failed for this request.
	Exclude map[string]struct{}
}

// Excludes reports whether id is in the exclusion set.
func (r Request) Excludes(id string) bool {
	_, ok := r.Exclude[id]
	return ok
}

// Decision is the result of a selection.
type Decision struct {
	Arm        Arm
	Explored   bool
	Score      float64
	SelectedAt time.Time
}

// Outcome is the result of one upstream call reported back to the router.
type Outcome struct {
	Success   bool
	LatencyMs float64
	Cost      float64
}

// ArmSnapshot is a read-only view of an arm with derived fields.
type ArmSnapshot struct {
	Arm
	SelectionRatio float64 `json:"selection_ratio"`
	Available      bool    `json:"available"`
}

// Patch is an operator update to an arm. Nil fields are left unchanged.
type Patch struct {
	Weight   *float64 `json:"weight,omitempty"`
	Priority *int     `json:"priority,omitempty"`
	Active   *bool    `json:"active,omitempty"`
}
