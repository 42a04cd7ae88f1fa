package routing

import (
	"math"
	"testing"
	"time"
)

func TestComputeReward(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		latency float64
		cost    float64
		success bool
		budget  float64
		want    float64
	}{
		{"failure", 10, 0, false, 1000, 0},
		{"free and instant", 0, 0, true, 1000, 1},
		{"at budget", 1000, 0, true, 1000, 0.7},
		{"over cost cap", 0, 1, true, 1000, 0.7},
		{"half budget", 1000, 0.05, true, 2000, 0.15 + 0.15 + 0.4},
		{"budget floor", 500, 0, true, 10, 0.15 + 0.3 + 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ComputeReward(tt.latency, tt.cost, tt.success, tt.budget)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ComputeReward = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCooldownDuration(t *testing.T) {
	t.Parallel()

	c := CooldownConfig{Initial: time.Second, Max: 10 * time.Second}
	c.defaults()
	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for n, w := range want {
		if got := c.duration(n); got != w {
			t.Errorf("duration(%d) = %v, want %v", n, got, w)
		}
	}
	if got := c.duration(200); got != 10*time.Second {
		t.Errorf("duration(200) = %v, want cap", got)
	}
}
