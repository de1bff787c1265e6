package detector

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/ent0n29/sentinel/internal/safety"
)

// EscalationConfig tunes trend detection over the sliding window.
type EscalationConfig struct {
	Window          int
	MinMessages     int
	SlopeThreshold  float64
	SlopeSaturation float64
}

func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		Window:          5,
		MinMessages:     3,
		SlopeThreshold:  0.08,
		SlopeSaturation: 0.2,
	}
}

func (c EscalationConfig) Validate() error {
	if c.MinMessages < 2 {
		return fmt.Errorf("escalation min messages must be at least 2")
	}
	if c.Window < c.MinMessages {
		return fmt.Errorf("escalation window %d is smaller than min messages %d", c.Window, c.MinMessages)
	}
	if c.SlopeThreshold <= 0 || c.SlopeSaturation <= 0 {
		return fmt.Errorf("escalation slope threshold and saturation must be positive")
	}
	return nil
}

// IntensityScorer rates how negative or heated a single message is, in [0,1].
type IntensityScorer interface {
	Intensity(text string) float64
}

var intensityLexicon = concat(
	terms("negativity", 0.3, `annoy(?:ed|ing)`, `irritat(?:ed|ing)`),
	terms("negativity", 0.35, `frustrat(?:ed|ing)`, `upset`),
	terms("negativity", 0.5, `angry`, `mad`, `pissed`),
	terms("negativity", 0.55, `sick of`, `fed up`, `disgust(?:ed|ing)`),
	terms("negativity", 0.6, `hate`),
	terms("negativity", 0.7, `can't stand`, `can't take`),
	terms("negativity", 0.75, `furious`, `enraged`, `rage`),
)

var intensifierLexicon = terms("intensifier", 0.05, `really`, `so`, `so much`, `extremely`, `totally`, `anymore`, `at all`)

const (
	intensifierCap = 0.15
	exclaimStep    = 0.05
	exclaimCap     = 0.1
)

// LexiconIntensity is the default IntensityScorer: the strongest negative
// phrase, boosted by intensifiers and exclamation marks.
type LexiconIntensity struct{}

func (LexiconIntensity) Intensity(text string) float64 {
	t := normalize(text)
	base := 0.0
	for _, h := range scan(t, intensityLexicon) {
		if h.weight > base {
			base = h.weight
		}
	}
	if base == 0 {
		return 0
	}
	boost := 0.0
	for _, h := range scan(t, intensifierLexicon) {
		boost += h.weight
	}
	if boost > intensifierCap {
		boost = intensifierCap
	}
	exclaim := float64(strings.Count(t, "!")) * exclaimStep
	if exclaim > exclaimCap {
		exclaim = exclaimCap
	}
	return clamp01(base + boost + exclaim)
}

// Escalation detects a rising intensity trend across the user's recent
// messages. The window simply slides; a topic change is not detected
// separately.
type Escalation struct {
	cfg    EscalationConfig
	scorer IntensityScorer
}

func NewEscalation(cfg EscalationConfig, scorer IntensityScorer) (*Escalation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		scorer = LexiconIntensity{}
	}
	return &Escalation{cfg: cfg, scorer: scorer}, nil
}

func (e *Escalation) Kind() safety.DetectorKind { return safety.KindEscalation }

func (e *Escalation) NeedsHistory() bool { return true }

func (e *Escalation) Analyze(ctx context.Context, msg safety.Message, history []safety.Message, _ safety.UserContext) (safety.DetectorResult, error) {
	if err := ctx.Err(); err != nil {
		return safety.DetectorResult{}, err
	}

	window := history
	if len(window) == 0 || window[len(window)-1].ID != msg.ID {
		window = append(window[:len(window):len(window)], msg)
	}
	if len(window) > e.cfg.Window {
		window = window[len(window)-e.cfg.Window:]
	}

	intensities := make([]float64, len(window))
	for i, m := range window {
		intensities[i] = e.scorer.Intensity(m.Text)
	}
	if len(intensities) < e.cfg.MinMessages {
		return safety.EscalationOK(safety.EscalationResult{Intensities: intensities}), nil
	}

	xs := make([]float64, len(intensities))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, intensities, nil, false)

	rising := intensities[len(intensities)-1] > intensities[0]
	escalating := rising && slope >= e.cfg.SlopeThreshold
	confidence := 0.0
	if slope > 0 {
		confidence = clamp01(slope / e.cfg.SlopeSaturation)
	}
	return safety.EscalationOK(safety.EscalationResult{
		IsEscalating: escalating,
		Confidence:   confidence,
		Slope:        slope,
		Intensities:  intensities,
	}), nil
}
