package routing

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestQuantile_SmallSamples(t *testing.T) {
	t.Parallel()

	q := NewQuantile(0.95)
	if q.Value() != 0 {
		t.Errorf("empty value = %v", q.Value())
	}
	q.Add(30)
	q.Add(10)
	q.Add(20)
	if q.Value() != 30 {
		t.Errorf("value = %v, want 30", q.Value())
	}
}

func TestQuantile_Accuracy(t *testing.T) {
	t.Parallel()

	q := NewQuantile(0.95)
	rng := rand.New(rand.NewPCG(1, 1))
	for _, i := range rng.Perm(10_000) {
		q.Add(float64(i))
	}
	if got := q.Value(); math.Abs(got-9500) > 150 {
		t.Errorf("p95 = %v, want ~9500", got)
	}
	if q.Count != 10_000 {
		t.Errorf("count = %d", q.Count)
	}
}

func TestQuantile_CopyIsIndependent(t *testing.T) {
	t.Parallel()

	q := NewQuantile(0.95)
	for i := range 10 {
		q.Add(float64(i))
	}
	cp := q
	cp.Add(1000)
	if q.Count != 10 || cp.Count != 11 {
		t.Errorf("counts = %d, %d", q.Count, cp.Count)
	}
}
