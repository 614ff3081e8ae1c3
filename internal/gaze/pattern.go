package gaze

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/elocute/elocute/pkg/ring"
)

// Fixation is a dwell of the gaze within a small radius.
type Fixation struct {
	Center   Vector2       `json:"center"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

// Saccade is a rapid movement between two gaze positions.
type Saccade struct {
	From      Vector2       `json:"from"`
	To        Vector2       `json:"to"`
	Start     time.Time     `json:"start"`
	Duration  time.Duration `json:"duration"`
	Amplitude float64       `json:"amplitude"` // normalized units
	Velocity  float64       `json:"velocity"`  // normalized units per second
}

// HeatCell is one populated cell of the attention heatmap.
type HeatCell struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Weight float64 `json:"weight"`
}

// PatternMetrics summarizes the gaze behavior observed so far.
type PatternMetrics struct {
	FixationCount       int           `json:"fixationCount"`
	AvgFixationDuration time.Duration `json:"avgFixationDuration"`
	SaccadeCount        int           `json:"saccadeCount"`
	AvgSaccadeVelocity  float64       `json:"avgSaccadeVelocity"`
	Heatmap             []HeatCell    `json:"heatmap"`
}

// AnalyzerConfig holds the pattern detection thresholds. The zero value maps
// to the defaults used by the session pipeline.
type AnalyzerConfig struct {
	// FixationRadius is the maximum distance from the cluster center for a
	// point to extend the current fixation. Default: 0.1.
	FixationRadius float64

	// MinFixationDuration is the dwell required before a cluster counts as a
	// fixation. Default: 100ms.
	MinFixationDuration time.Duration

	// HeatmapGridSize is the number of cells per axis. Default: 32.
	HeatmapGridSize int

	// HeatmapDecay is the multiplicative decay applied to every cell per
	// observed point. Default: 0.95.
	HeatmapDecay float64

	// HeatmapPrune drops cells whose weight falls below it. Default: 0.1.
	HeatmapPrune float64

	// MaxFixations and MaxSaccades bound the retained event history.
	// Defaults: 256 and 512.
	MaxFixations int
	MaxSaccades  int
}

func (c AnalyzerConfig) withDefaults() AnalyzerConfig {
	if c.FixationRadius <= 0 {
		c.FixationRadius = 0.1
	}
	if c.MinFixationDuration <= 0 {
		c.MinFixationDuration = 100 * time.Millisecond
	}
	if c.HeatmapGridSize <= 0 {
		c.HeatmapGridSize = 32
	}
	if c.HeatmapDecay <= 0 {
		c.HeatmapDecay = 0.95
	}
	if c.HeatmapPrune <= 0 {
		c.HeatmapPrune = 0.1
	}
	if c.MaxFixations <= 0 {
		c.MaxFixations = 256
	}
	if c.MaxSaccades <= 0 {
		c.MaxSaccades = 512
	}
	return c
}

// cluster is the in-progress fixation candidate.
type cluster struct {
	center Vector2
	count  int
	start  time.Time
	last   time.Time
	lastPt Vector2
}

// Analyzer detects fixations and saccades from a gaze point stream and
// maintains a decaying attention heatmap. Owned by the session's video loop;
// not safe for concurrent use.
type Analyzer struct {
	cfg AnalyzerConfig

	radius    float64
	cur       *cluster
	fixations *ring.Buffer[Fixation]
	saccades  *ring.Buffer[Saccade]
	heat      map[int]float64
}

// NewAnalyzer returns an Analyzer with cfg applied over defaults.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	cfg = cfg.withDefaults()
	return &Analyzer{
		cfg:       cfg,
		radius:    cfg.FixationRadius,
		fixations: ring.New[Fixation](cfg.MaxFixations),
		saccades:  ring.New[Saccade](cfg.MaxSaccades),
		heat:      make(map[int]float64),
	}
}

// Calibrate adapts the fixation radius to the subject's baseline jitter: the
// radius becomes 1.5× the mean displacement between consecutive detected
// samples, bounded to [0.05, 0.3]. Sequences with fewer than two detected
// samples leave the radius unchanged. [Reset] restores the configured value.
func (a *Analyzer) Calibrate(samples []Sample) {
	var (
		prev     Vector2
		havePrev bool
		dists    []float64
	)
	for _, s := range samples {
		if !s.FaceDetected {
			continue
		}
		if havePrev {
			dists = append(dists, gazeDist(prev, s.Gaze))
		}
		prev = s.Gaze
		havePrev = true
	}
	if len(dists) == 0 {
		return
	}
	r := 1.5 * stat.Mean(dists, nil)
	a.radius = math.Min(math.Max(r, 0.05), 0.3)
}

// Observe feeds one sample. Undetected samples are skipped; they neither
// break a fixation nor decay the heatmap, so a brief detector dropout does
// not erase the pattern state.
func (a *Analyzer) Observe(s Sample) {
	if !s.FaceDetected {
		return
	}
	p := Vector2{X: clampUnit(s.Gaze.X), Y: clampUnit(s.Gaze.Y)}
	a.updateHeatmap(p)

	if a.cur == nil {
		a.cur = &cluster{center: p, count: 1, start: s.Timestamp, last: s.Timestamp, lastPt: p}
		return
	}

	if gazeDist(p, a.cur.center) <= a.radius {
		// Extend the cluster; the center is the running mean.
		c := a.cur
		c.count++
		c.center.X += (p.X - c.center.X) / float64(c.count)
		c.center.Y += (p.Y - c.center.Y) / float64(c.count)
		c.last = s.Timestamp
		c.lastPt = p
		return
	}

	// The gaze jumped: commit the cluster if it dwelled long enough, record
	// the jump as a saccade, start a new cluster at the landing point.
	a.commitCluster()
	dt := s.Timestamp.Sub(a.cur.last)
	amp := gazeDist(a.cur.lastPt, p)
	sac := Saccade{
		From:      a.cur.lastPt,
		To:        p,
		Start:     a.cur.last,
		Duration:  dt,
		Amplitude: amp,
	}
	if dt > 0 {
		sac.Velocity = amp / dt.Seconds()
	}
	a.saccades.Push(sac)

	a.cur = &cluster{center: p, count: 1, start: s.Timestamp, last: s.Timestamp, lastPt: p}
}

// commitCluster turns the current cluster into a fixation when it meets the
// dwell requirement. The cluster itself stays current until replaced.
func (a *Analyzer) commitCluster() {
	c := a.cur
	if c == nil {
		return
	}
	if d := c.last.Sub(c.start); d >= a.cfg.MinFixationDuration {
		a.fixations.Push(Fixation{Center: c.center, Start: c.start, Duration: d})
	}
}

// updateHeatmap decays every cell, adds weight at the point's cell, and
// prunes cells that fell below the floor.
func (a *Analyzer) updateHeatmap(p Vector2) {
	for k, w := range a.heat {
		w *= a.cfg.HeatmapDecay
		if w < a.cfg.HeatmapPrune {
			delete(a.heat, k)
		} else {
			a.heat[k] = w
		}
	}
	a.heat[a.cellKey(p)] += 1
}

// cellKey maps a [-1,1] gaze point onto the grid.
func (a *Analyzer) cellKey(p Vector2) int {
	n := a.cfg.HeatmapGridSize
	x := int((p.X + 1) / 2 * float64(n))
	y := int((p.Y + 1) / 2 * float64(n))
	if x < 0 {
		x = 0
	}
	if x >= n {
		x = n - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= n {
		y = n - 1
	}
	return y*n + x
}

// Fixations returns the committed fixation history, oldest first. An open
// cluster that already meets the dwell requirement is included as the last
// element.
func (a *Analyzer) Fixations() []Fixation {
	out := a.fixations.Snapshot()
	if c := a.cur; c != nil {
		if d := c.last.Sub(c.start); d >= a.cfg.MinFixationDuration {
			out = append(out, Fixation{Center: c.center, Start: c.start, Duration: d})
		}
	}
	return out
}

// Saccades returns the recorded saccades, oldest first.
func (a *Analyzer) Saccades() []Saccade {
	return a.saccades.Snapshot()
}

// Heatmap returns the populated cells sorted by weight, heaviest first. Ties
// break on cell position so the order is deterministic.
func (a *Analyzer) Heatmap() []HeatCell {
	n := a.cfg.HeatmapGridSize
	cells := make([]HeatCell, 0, len(a.heat))
	for k, w := range a.heat {
		cells = append(cells, HeatCell{X: k % n, Y: k / n, Weight: w})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Weight != cells[j].Weight {
			return cells[i].Weight > cells[j].Weight
		}
		if cells[i].Y != cells[j].Y {
			return cells[i].Y < cells[j].Y
		}
		return cells[i].X < cells[j].X
	})
	return cells
}

// Metrics returns a point-in-time summary. With no observed gaze yet it is
// the zero value.
func (a *Analyzer) Metrics() PatternMetrics {
	fixations := a.Fixations()
	saccades := a.saccades.Snapshot()

	m := PatternMetrics{
		FixationCount: len(fixations),
		SaccadeCount:  len(saccades),
		Heatmap:       a.Heatmap(),
	}
	if len(fixations) > 0 {
		var total time.Duration
		for _, f := range fixations {
			total += f.Duration
		}
		m.AvgFixationDuration = total / time.Duration(len(fixations))
	}
	if len(saccades) > 0 {
		vels := make([]float64, len(saccades))
		for i, s := range saccades {
			vels[i] = s.Velocity
		}
		m.AvgSaccadeVelocity = stat.Mean(vels, nil)
	}
	return m
}

// Reset clears all pattern state and restores the configured fixation
// radius.
func (a *Analyzer) Reset() {
	a.radius = a.cfg.FixationRadius
	a.cur = nil
	a.fixations.Clear()
	a.saccades.Clear()
	a.heat = make(map[int]float64)
}

func gazeDist(a, b Vector2) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
