package detector

import (
	"regexp"
	"strings"
)

// term is one weighted phrase of a lexicon. Phrases are regular expression
// fragments matched case-insensitively on word boundaries.
type term struct {
	re     *regexp.Regexp
	label  string
	weight float64
}

func terms(label string, weight float64, phrases ...string) []term {
	out := make([]term, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, term{
			re:     regexp.MustCompile(`(?i)\b(?:` + p + `)\b`),
			label:  label,
			weight: weight,
		})
	}
	return out
}

type hit struct {
	label  string
	weight float64
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "cannot", "can't")

// normalize lowercases and folds typographic apostrophes so lexicon phrases
// only need one spelling.
func normalize(text string) string {
	return apostrophes.Replace(strings.ToLower(text))
}

// scan returns one hit per matching term.
func scan(text string, lex []term) []hit {
	var hits []hit
	for _, t := range lex {
		if t.re.MatchString(text) {
			hits = append(hits, hit{label: t.label, weight: t.weight})
		}
	}
	return hits
}

// noisyOr combines independent evidence: 1 - Π(1 - w).
func noisyOr(weights ...float64) float64 {
	miss := 1.0
	for _, w := range weights {
		miss *= 1 - clamp01(w)
	}
	return clamp01(1 - miss)
}

// byLabel groups hits and combines each group with noisyOr.
func byLabel(hits []hit) map[string]float64 {
	grouped := map[string][]float64{}
	for _, h := range hits {
		grouped[h.label] = append(grouped[h.label], h.weight)
	}
	out := make(map[string]float64, len(grouped))
	for label, ws := range grouped {
		out[label] = noisyOr(ws...)
	}
	return out
}

func weights(hits []hit) []float64 {
	out := make([]float64, len(hits))
	for i, h := range hits {
		out[i] = h.weight
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
