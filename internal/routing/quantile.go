package routing

import (
	"math"
	"slices"
)

// Quantile is a P² streaming estimator (Jain & Chlamtac) for one quantile.
// It keeps five markers and needs no sample buffer, so it is a plain value
// that can be copied, compared and persisted with the rest of the arm.
type Quantile struct {
	P       float64    `json:"p"`
	Count   int64      `json:"count"`
	Heights [5]float64 `json:"heights"`
	Pos     [5]float64 `json:"pos"`
	Desired [5]float64 `json:"desired"`
}

// NewQuantile returns an estimator for quantile p in (0, 1).
func NewQuantile(p float64) Quantile {
	return Quantile{P: p}
}

// Add observes x.
func (q *Quantile) Add(x float64) {
	if q.P <= 0 || q.P >= 1 {
		q.P = 0.95
	}

	if q.Count < 5 {
		q.Heights[q.Count] = x
		q.Count++
		if q.Count == 5 {
			slices.Sort(q.Heights[:])
			p := q.P
			q.Pos = [5]float64{1, 2, 3, 4, 5}
			q.Desired = [5]float64{1, 1 + 2*p, 1 + 4*p, 3 + 2*p, 5}
		}
		return
	}
	q.Count++

	var k int
	switch {
	case x < q.Heights[0]:
		q.Heights[0] = x
		k = 0
	case x < q.Heights[1]:
		k = 0
	case x < q.Heights[2]:
		k = 1
	case x < q.Heights[3]:
		k = 2
	case x <= q.Heights[4]:
		k = 3
	default:
		q.Heights[4] = x
		k = 3
	}

	for i := k + 1; i < 5; i++ {
		q.Pos[i]++
	}
	p := q.P
	inc := [5]float64{0, p / 2, p, (1 + p) / 2, 1}
	for i := range q.Desired {
		q.Desired[i] += inc[i]
	}

	for i := 1; i <= 3; i++ {
		d := q.Desired[i] - q.Pos[i]
		if (d >= 1 && q.Pos[i+1]-q.Pos[i] > 1) || (d <= -1 && q.Pos[i-1]-q.Pos[i] < -1) {
			s := math.Copysign(1, d)
			h := q.parabolic(i, s)
			if q.Heights[i-1] < h && h < q.Heights[i+1] {
				q.Heights[i] = h
			} else {
				q.Heights[i] = q.linear(i, s)
			}
			q.Pos[i] += s
		}
	}
}

func (q *Quantile) parabolic(i int, d float64) float64 {
	n, h := q.Pos, q.Heights
	return h[i] + d/(n[i+1]-n[i-1])*
		((n[i]-n[i-1]+d)*(h[i+1]-h[i])/(n[i+1]-n[i])+
			(n[i+1]-n[i]-d)*(h[i]-h[i-1])/(n[i]-n[i-1]))
}

func (q *Quantile) linear(i int, d float64) float64 {
	j := i + int(d)
	return q.Heights[i] + d*(q.Heights[j]-q.Heights[i])/(q.Pos[j]-q.Pos[i])
}

// Value returns the current estimate. With fewer than five observations it
// returns the nearest-rank quantile of what was seen.
func (q *Quantile) Value() float64 {
	switch {
	case q.Count == 0:
		return 0
	case q.Count < 5:
		seen := slices.Clone(q.Heights[:q.Count])
		slices.Sort(seen)
		p := q.P
		if p <= 0 || p >= 1 {
			p = 0.95
		}
		idx := int(math.Ceil(p*float64(len(seen)))) - 1
		return seen[max(idx, 0)]
	default:
		return q.Heights[2]
	}
}
