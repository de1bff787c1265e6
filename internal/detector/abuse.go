package detector

import (
	"context"
	"sort"

	"github.com/ent0n29/sentinel/internal/safety"
)

const abusiveAt = 0.5

var abuseLexicon = concat(
	terms("insult", 0.6, `stupid`, `idiot`, `worthless`, `moron`, `imbecile`),
	terms("insult", 0.5, `loser`, `pathetic`, `dumb`, `trash`),
	terms("insult", 0.4, `useless`, `shut up`),
	terms("harassment", 0.5, `i hate you`, `nobody (?:likes|wants) you`),
	terms("harassment", 0.85, `kill yourself`, `go die`),
	terms("threat", 0.9, `i(?:'ll| will) (?:kill|hurt|find) you`, `i know where you live`),
	terms("threat", 0.75, `you(?:'re| are) dead`, `watch your back`),
	terms("hate_speech", 0.8, `subhuman`, `vermin`, `filthy (?:immigrants|foreigners)`),
)

// Abuse flags abusive language in a single message.
type Abuse struct{}

func NewAbuse() *Abuse { return &Abuse{} }

func (a *Abuse) Kind() safety.DetectorKind { return safety.KindAbuse }

func (a *Abuse) Analyze(ctx context.Context, msg safety.Message, _ []safety.Message, _ safety.UserContext) (safety.DetectorResult, error) {
	if err := ctx.Err(); err != nil {
		return safety.DetectorResult{}, err
	}
	hits := scan(normalize(msg.Text), abuseLexicon)
	confidence := noisyOr(weights(hits)...)
	return safety.AbuseOK(safety.AbuseResult{
		IsAbusive:  confidence >= abusiveAt,
		AbuseType:  dominantLabel(hits),
		Confidence: confidence,
	}), nil
}

// dominantLabel returns the label with the strongest combined evidence,
// breaking ties alphabetically.
func dominantLabel(hits []hit) string {
	scores := byLabel(hits)
	labels := make([]string, 0, len(scores))
	for l := range scores {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	best, bestScore := "", 0.0
	for _, l := range labels {
		if scores[l] > bestScore {
			best, bestScore = l, scores[l]
		}
	}
	return best
}

func concat(groups ...[]term) []term {
	var out []term
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
