package detector

import (
	"context"

	"github.com/ent0n29/sentinel/internal/policy"
	"github.com/ent0n29/sentinel/internal/safety"
)

const categoryTermWeight = 0.6

var contentLexicon = concat(
	terms("violence", categoryTermWeight, `violen(?:t|ce)`, `gore`, `gory`, `bloody`, `murder(?:ed|s)?`, `stab(?:bed|bing)?`, `beat(?:ing)? (?:him|her|them) up`),
	terms("drugs", categoryTermWeight, `drugs?`, `cocaine`, `heroin`, `meth`, `weed`, `marijuana`, `overdose`),
	terms("alcohol", categoryTermWeight, `alcohol`, `beer`, `vodka`, `whiskey`, `drunk`, `booze`),
	terms("weapons", categoryTermWeight, `guns?`, `rifles?`, `pistols?`, `knives`, `bombs?`, `explosives?`),
	terms("gambling", categoryTermWeight, `gambl(?:e|ing)`, `casinos?`, `betting`, `poker`, `slot machines?`),
	terms("sexual", categoryTermWeight, `sex(?:ual)?`, `porn(?:ography)?`, `nudes?`, `nsfw`),
	terms("extremism", categoryTermWeight, `terroris[mt]s?`, `jihad`, `white power`, `ethnic cleansing`, `extremists?`),
)

// Content scores message categories and blocks them against age-aware
// thresholds: the same score can pass for an adult and be blocked for a minor
// or a guardian-mode account.
type Content struct {
	rules policy.ContentRules
}

func NewContent(rules policy.ContentRules) *Content {
	return &Content{rules: rules}
}

func (c *Content) Kind() safety.DetectorKind { return safety.KindContent }

func (c *Content) Analyze(ctx context.Context, msg safety.Message, _ []safety.Message, uc safety.UserContext) (safety.DetectorResult, error) {
	if err := ctx.Err(); err != nil {
		return safety.DetectorResult{}, err
	}
	scores := byLabel(scan(normalize(msg.Text), contentLexicon))
	blocked := c.rules.Blocked(scores, uc)
	return safety.ContentOK(safety.ContentResult{
		IsAppropriate:     len(blocked) == 0,
		BlockedCategories: blocked,
		CategoryScores:    scores,
	}), nil
}
