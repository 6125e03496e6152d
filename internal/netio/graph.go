package netio

import "time"

// GraphPoint is one smoothed live-throughput sample for rendering.
type GraphPoint struct {
	At       time.Time `json:"at"`
	DownMbps float64   `json:"down_mbps"`
	UpMbps   float64   `json:"up_mbps"`
}

// LiveGraph is a fixed-capacity ring of EWMA-smoothed throughput points.
//
// The Y scale expands instantly to track new peaks but decays slowly when
// below them, so the rendered graph doesn't jump between ticks. The graph
// simply stops receiving points between trials; it never decays values to
// zero, which would read as a dropped connection.
type LiveGraph struct {
	capacity   int
	alpha      float64
	scaleDecay float64

	points []GraphPoint
	head   int
	filled bool

	smoothedDown float64
	smoothedUp   float64
	primed       bool

	scale float64
}

func NewLiveGraph(capacity int, alpha, scaleDecay float64) *LiveGraph {
	if capacity <= 0 {
		capacity = 36
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.28
	}
	if scaleDecay <= 0 || scaleDecay >= 1 {
		scaleDecay = 0.03
	}
	return &LiveGraph{
		capacity:   capacity,
		alpha:      alpha,
		scaleDecay: scaleDecay,
		points:     make([]GraphPoint, capacity),
		scale:      1,
	}
}

// Append smooths the raw rates and pushes a point, updating the scale.
func (g *LiveGraph) Append(at time.Time, downMbps, upMbps float64) {
	if !g.primed {
		g.smoothedDown = downMbps
		g.smoothedUp = upMbps
		g.primed = true
	} else {
		g.smoothedDown = g.alpha*downMbps + (1-g.alpha)*g.smoothedDown
		g.smoothedUp = g.alpha*upMbps + (1-g.alpha)*g.smoothedUp
	}

	g.points[g.head] = GraphPoint{At: at, DownMbps: g.smoothedDown, UpMbps: g.smoothedUp}
	g.head = (g.head + 1) % g.capacity
	if g.head == 0 {
		g.filled = true
	}

	peak := g.smoothedDown
	if g.smoothedUp > peak {
		peak = g.smoothedUp
	}
	if peak > g.scale {
		g.scale = peak
	} else {
		g.scale *= 1 - g.scaleDecay
		if g.scale < peak {
			g.scale = peak
		}
		if g.scale < 1 {
			g.scale = 1
		}
	}
}

// Reset clears the buffer for a new trial cycle.
func (g *LiveGraph) Reset() {
	g.points = make([]GraphPoint, g.capacity)
	g.head = 0
	g.filled = false
	g.primed = false
	g.smoothedDown = 0
	g.smoothedUp = 0
	g.scale = 1
}

// Points returns the buffered points oldest-first.
func (g *LiveGraph) Points() []GraphPoint {
	if !g.filled {
		out := make([]GraphPoint, g.head)
		copy(out, g.points[:g.head])
		return out
	}
	out := make([]GraphPoint, 0, g.capacity)
	out = append(out, g.points[g.head:]...)
	out = append(out, g.points[:g.head]...)
	return out
}

// Scale returns the current Y-axis scale in Mbps.
func (g *LiveGraph) Scale() float64 { return g.scale }
