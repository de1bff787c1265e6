package detector

import (
	"context"
	"sort"

	"github.com/ent0n29/sentinel/internal/safety"
)

var crisisLexicon = concat(
	terms("suicidal_intent", 0.85, `kill myself`, `end my life`, `take my (?:own )?life`),
	terms("suicidal_intent", 0.8, `end it all`, `want to die`, `wanna die`),
	terms("suicidal_ideation", 0.75, `suicid(?:e|al)`, `no reason to live`, `better off without me`),
	terms("self_harm", 0.6, `cut(?:ting)? myself`, `hurt(?:ing)? myself`, `self[- ]harm`),
	terms("overwhelmed", 0.55, `can't take it anymore`, `can't go on`, `can't do this anymore`),
	terms("hopelessness", 0.35, `hopeless`, `no way out`, `nothing matters`),
	terms("low_mood", 0.25, `depressed`, `so lonely`, `empty inside`),
)

// Imminence only amplifies an existing signal.
var imminenceLexicon = terms("imminent", 0.7, `tonight`, `right now`, `have a plan`, `said goodbye`, `pills? ready`)

// interventionCutoffs[i] is the minimum risk score for level i+1.
var interventionCutoffs = [...]float64{0.25, 0.5, 0.75, 0.95}

const crisisDetectedLevel = 2

// Crisis scores self-harm and suicide risk on the 0-4 intervention scale.
type Crisis struct{}

func NewCrisis() *Crisis { return &Crisis{} }

func (c *Crisis) Kind() safety.DetectorKind { return safety.KindCrisis }

func (c *Crisis) Analyze(ctx context.Context, msg safety.Message, _ []safety.Message, _ safety.UserContext) (safety.DetectorResult, error) {
	if err := ctx.Err(); err != nil {
		return safety.DetectorResult{}, err
	}
	text := normalize(msg.Text)
	hits := scan(text, crisisLexicon)
	if len(hits) > 0 {
		hits = append(hits, scan(text, imminenceLexicon)...)
	}

	score := noisyOr(weights(hits)...)
	level := InterventionLevel(score)
	return safety.CrisisOK(safety.CrisisResult{
		CrisisDetected:    level >= crisisDetectedLevel,
		InterventionLevel: level,
		RiskScore:         score,
		Indicators:        indicators(hits),
	}), nil
}

// InterventionLevel maps a risk score in [0,1] onto 0 (none) .. 4 (imminent).
func InterventionLevel(score float64) int {
	level := 0
	for i, cut := range interventionCutoffs {
		if score >= cut {
			level = i + 1
		}
	}
	return level
}

func indicators(hits []hit) []string {
	seen := map[string]bool{}
	var out []string
	for _, h := range hits {
		if !seen[h.label] {
			seen[h.label] = true
			out = append(out, h.label)
		}
	}
	sort.Strings(out)
	return out
}
