package parser

import (
	"regexp"
	"strings"
)

// Intent confidences.
const (
	intentExact   = 1.0
	intentPartial = 0.7
	intentDefault = 0.5
)

type intentRule struct {
	intent  Intent
	exact   *regexp.Regexp
	partial *regexp.Regexp
}

// Rules are checked in order; the first whole-word hit wins, otherwise the
// first inflected hit.
var intentRules = []intentRule{
	newIntentRule(IntentTrend, "trend", "over time", "growth", "trajectory", "progression", "historically"),
	newIntentRule(IntentComparison, "compare", "comparison", "versus", "vs"),
	newIntentRule(IntentVariance, "variance", "difference", "change", "deviation"),
	newIntentRule(IntentBreakdown, "breakdown", "break down", "split", "composition"),
	newIntentRule(IntentTopN, "top", "bottom", "largest", "smallest", "highest", "lowest", "biggest"),
	newIntentRule(IntentRatio, "ratio", "percent", "percentage", "proportion", "relative to", "share of"),
	newIntentRule(IntentDetail, "detail", "line items", "transactions", "itemize", "list"),
	newIntentRule(IntentTotal, "total", "sum", "aggregate", "overall", "how much"),
	newIntentRule(IntentSummary, "summary", "summarize", "overview", "highlights"),
}

func newIntentRule(intent Intent, keywords ...string) intentRule {
	exact := make([]string, 0, len(keywords))
	var partial []string
	for _, kw := range keywords {
		words := strings.Fields(kw)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		exact = append(exact, strings.Join(words, `\s+`))
		if len(words) == 1 {
			partial = append(partial, words[0]+`(?:s|es|ed|d|ing|ly)`)
			if strings.HasSuffix(kw, "e") {
				partial = append(partial, regexp.QuoteMeta(strings.TrimSuffix(kw, "e"))+`(?:ing|ion|ed)`)
			}
		}
	}
	r := intentRule{
		intent: intent,
		exact:  regexp.MustCompile(`(?i)\b(?:` + strings.Join(exact, "|") + `)\b`),
	}
	if len(partial) > 0 {
		r.partial = regexp.MustCompile(`(?i)\b(?:` + strings.Join(partial, "|") + `)\b`)
	}
	return r
}

// classifyIntent returns the intent and how sure the rule match is.
func classifyIntent(text string) (Intent, float64) {
	for _, r := range intentRules {
		if r.exact.MatchString(text) {
			return r.intent, intentExact
		}
	}
	for _, r := range intentRules {
		if r.partial != nil && r.partial.MatchString(text) {
			return r.intent, intentPartial
		}
	}
	return IntentSummary, intentDefault
}
