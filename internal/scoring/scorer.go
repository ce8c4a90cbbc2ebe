// Package scoring implements the calibrated-probability scorer: a
// heuristic weighted-sum fallback and a learned linear-classifier
// implementation behind one Scorer interface, chosen once at startup.
package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chartlydata/payee-match/internal/features"
	"github.com/chartlydata/payee-match/internal/registry"
)

// Scorer produces a calibrated match probability from a feature map, plus
// an explanation of the top contributing features.
type Scorer interface {
	Score(f map[string]float64) float64
	Explain(f map[string]float64, n int) Explanation
}

// Explanation is the ordered list of a score's top feature contributions,
// the n highest by absolute contribution.
type Explanation []registry.FeatureContribution

// String renders the contributions as one operator-facing, comma-separated
// line, e.g. "token_set_ratio -> +0.230, jaro_winkler -> +0.150". Feature
// values are not included; only names and contributions are.
func (e Explanation) String() string {
	parts := make([]string, 0, len(e))
	for _, c := range e {
		sign := "+"
		if c.Contribution < 0 {
			sign = ""
		}
		parts = append(parts, fmt.Sprintf("%s -> %s%.3f", c.Name, sign, c.Contribution))
	}
	return strings.Join(parts, ", ")
}

// weights implements the heuristic fallback formula from §4.6.
var weights = map[string]float64{
	features.FTokenSetRatio:      0.25,
	features.FTokenSortRatio:     0.20,
	features.FJaroWinkler:        0.15,
	features.FLevenshtein:        0.10,
	features.FTrgmScore:          0.10,
	features.FVecScore:           0.05,
	features.FDMJaccard:          0.05,
	features.FTokenJaccard:       0.05,
	features.FInitialsMatch:      0.05,
	features.FIsAbbreviation:     0.10,
	features.FHasCommonVariation: 0.10,
}

// Heuristic is the fixed weighted-sum scorer used when no learned
// artifact is configured.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) Score(f map[string]float64) float64 {
	if f[features.FExactMatch] >= 1 {
		return 0.99
	}
	score := 0.0
	for name, w := range weights {
		score += w * f[name]
	}
	if f[features.FLenRatio] < 0.5 {
		score *= 0.8
	}
	return clamp(score)
}

func (h *Heuristic) Explain(f map[string]float64, n int) Explanation {
	return topContributions(f, weights, n)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func topContributions(f map[string]float64, w map[string]float64, n int) Explanation {
	contribs := make(Explanation, 0, len(w))
	for name, weight := range w {
		contribs = append(contribs, registry.FeatureContribution{Name: name, Contribution: weight * f[name]})
	}
	sort.Slice(contribs, func(i, j int) bool {
		ai, aj := abs(contribs[i].Contribution), abs(contribs[j].Contribution)
		if ai != aj {
			return ai > aj
		}
		return contribs[i].Name < contribs[j].Name
	})
	if n > 0 && len(contribs) > n {
		contribs = contribs[:n]
	}
	return contribs
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Learned is a probability-calibrated linear classifier: score is a
// weighted sum of named feature values passed through a monotone
// calibration map (e.g. isotonic regression control points), loaded from
// an on-disk Artifact whose FeatureNames must match features.Names().
type Learned struct {
	artifact Artifact
}

// Artifact is a loaded learned-scorer model: linear weights over a fixed
// feature-name set, plus calibration control points mapping a raw linear
// score to a calibrated probability.
type Artifact struct {
	FeatureNames []string
	Weights      map[string]float64
	Bias         float64
	// Calibration is a sorted list of (raw_score, probability) control
	// points; Calibrate interpolates linearly between the two bracketing
	// points.
	Calibration []CalibrationPoint
}

type CalibrationPoint struct {
	Raw   float64
	Prob  float64
}

// NewLearned validates that artifact.FeatureNames matches the pipeline's
// fixed feature set before returning a usable Scorer.
func NewLearned(artifact Artifact) (*Learned, error) {
	want := features.Names()
	if len(artifact.FeatureNames) != len(want) {
		return nil, fmt.Errorf("scoring: artifact feature count %d != %d", len(artifact.FeatureNames), len(want))
	}
	got := append([]string(nil), artifact.FeatureNames...)
	sort.Strings(got)
	for i := range want {
		if got[i] != want[i] {
			return nil, fmt.Errorf("scoring: artifact feature name mismatch at %d: %q != %q", i, got[i], want[i])
		}
	}
	if len(artifact.Calibration) < 2 {
		return nil, fmt.Errorf("scoring: artifact needs at least 2 calibration points")
	}
	return &Learned{artifact: artifact}, nil
}

func (l *Learned) rawScore(f map[string]float64) float64 {
	raw := l.artifact.Bias
	for name, w := range l.artifact.Weights {
		raw += w * f[name]
	}
	return raw
}

func (l *Learned) Score(f map[string]float64) float64 {
	if f[features.FExactMatch] >= 1 {
		return 0.99
	}
	return clamp(l.calibrate(l.rawScore(f)))
}

func (l *Learned) calibrate(raw float64) float64 {
	pts := l.artifact.Calibration
	if raw <= pts[0].Raw {
		return pts[0].Prob
	}
	if raw >= pts[len(pts)-1].Raw {
		return pts[len(pts)-1].Prob
	}
	for i := 1; i < len(pts); i++ {
		if raw <= pts[i].Raw {
			lo, hi := pts[i-1], pts[i]
			if hi.Raw == lo.Raw {
				return hi.Prob
			}
			t := (raw - lo.Raw) / (hi.Raw - lo.Raw)
			return lo.Prob + t*(hi.Prob-lo.Prob)
		}
	}
	return pts[len(pts)-1].Prob
}

func (l *Learned) Explain(f map[string]float64, n int) Explanation {
	return topContributions(f, l.artifact.Weights, n)
}
