package parser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/common/textnorm"
	"ledger-query-workers/internal/fiscal"
	"ledger-query-workers/internal/registry"
	"ledger-query-workers/internal/semantics"
)

// EntityResolver looks terms up in the learned registry. *registry.Manager
// and *registry.State both satisfy it.
type EntityResolver interface {
	Lookup(term string, t registry.EntityType) registry.Match
}

// registryOrder is the order entity types are tried for a free term.
var registryOrder = []registry.EntityType{
	registry.EntityDepartment,
	registry.EntitySubsidiary,
	registry.EntityAccount,
}

const maxNGram = 3

type Parser struct {
	calendar *fiscal.Calendar
	vocab    *semantics.Vocabulary
	entities EntityResolver
	logger   logger.Logger
	now      func() time.Time
}

func New(cal *fiscal.Calendar, vocab *semantics.Vocabulary, entities EntityResolver, log logger.Logger) *Parser {
	if vocab == nil {
		vocab = semantics.Default()
	}
	return &Parser{
		calendar: cal,
		vocab:    vocab,
		entities: entities,
		logger:   log.With(map[string]interface{}{"component": "query-parser"}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var (
	reTopN       = regexp.MustCompile(`(?i)\b(top|bottom)\s+(\d{1,4})\b`)
	reGroupBy    = regexp.MustCompile(`(?i)\bby\s+(departments?|accounts?|months?|quarters?|vendors?|customers?|class(?:es)?|locations?|subsidiar(?:y|ies)|transaction\s+types?|types?)\b`)
	reAccountNum = regexp.MustCompile(`(?i)\b(?:account|acct)s?\.?\s*(?:#|no\.?|number)?\s*(\d{1,6})\b`)
	reWord       = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}&'’.\-]*`)
)

// parseState accumulates one request's resolution.
type parseState struct {
	text       string
	claimed    spans
	query      *ParsedQuery
	selections map[string]string

	ambiguous []string
	options   []Option
}

func (s *parseState) claim(start, end int) { s.claimed = append(s.claimed, span{start, end}) }

func (s *parseState) apply(f semantics.Filter) {
	q := s.query
	q.AccountPrefixes = appendUnique(q.AccountPrefixes, f.AccountPrefixes...)
	q.AccountNames = appendUnique(q.AccountNames, f.AccountNames...)
	q.Departments = appendUnique(q.Departments, f.Departments...)
	q.TransactionTypes = appendUnique(q.TransactionTypes, f.TransactionTypes...)
	q.Subsidiaries = appendUnique(q.Subsidiaries, f.Subsidiaries...)
	if f.Consolidated {
		q.Consolidated = true
	}
}

func (s *parseState) record(text, source, category string, confidence float64, values ...string) {
	s.query.ResolvedTerms = append(s.query.ResolvedTerms, ResolvedTerm{
		Text:       text,
		Source:     source,
		Category:   category,
		Values:     values,
		Confidence: confidence,
	})
}

func (s *parseState) needChoice(term string, options []Option) {
	s.ambiguous = append(s.ambiguous, term)
	s.options = append(s.options, options...)
}

func optionValues(options []Option, term string) []string {
	var out []string
	for _, o := range options {
		if o.Term == term {
			out = append(out, o.Value)
		}
	}
	return out
}

// Parse resolves req.Text. Ambiguity is not an error: it yields a Result
// with a Clarification. A malformed period is an error.
func (p *Parser) Parse(ctx context.Context, req Request) (*Result, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, apperrors.NewInvalidJobInputError("question is empty")
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = p.now()
	}
	asOf = fiscal.Truncate(asOf)

	st := &parseState{
		text:       text,
		selections: req.Context.Selections,
		query: &ParsedQuery{
			OriginalText: text,
			AsOf:         asOf.Format("2006-01-02"),
		},
	}
	q := st.query
	q.Intent, q.IntentConfidence = classifyIntent(text)

	// comparison before period so "vs last year" is not the primary period
	compType, compSpan := extractComparison(text)
	if compSpan != nil {
		st.claim(compSpan.start, compSpan.end)
	}
	period, periodSpan, err := p.extractPeriod(text, asOf, st.claimed)
	if err != nil {
		p.logger.Info("malformed period", map[string]interface{}{"question": text, "error": err})
		return nil, err
	}
	if periodSpan != nil {
		st.claim(periodSpan.start, periodSpan.end)
		q.Period = period
	}
	if compType != "" {
		q.Comparison = &Comparison{Type: compType, Period: p.comparisonPeriod(compType, period, asOf)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.extractModifiers(st)
	p.resolveStatic(st)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.resolveRegistry(st)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(st.ambiguous) > 0 {
		for _, term := range st.ambiguous {
			aerr := apperrors.NewAmbiguousTermError(term, optionValues(st.options, term))
			p.logger.Info("question needs clarification", map[string]interface{}{
				"question": text,
				"code":     aerr.Code,
				"details":  aerr.Details,
			})
		}
		return &Result{
			Status: StatusClarification,
			Clarification: &Clarification{
				Message:        clarificationMessage(st.ambiguous, st.options),
				AmbiguousTerms: st.ambiguous,
				Options:        st.options,
			},
		}, nil
	}

	if q.Period == nil {
		q.Warnings = append(q.Warnings, "no time period found; all available periods are included")
	}
	q.Confidence = overallConfidence(q)

	p.logger.Debug("question parsed", map[string]interface{}{
		"intent":       q.Intent,
		"departments":  q.Departments,
		"prefixes":     q.AccountPrefixes,
		"accountNames": q.AccountNames,
		"unresolved":   q.UnresolvedTerms,
	})
	return &Result{Status: StatusParsed, Query: q}, nil
}

// extractModifiers handles top/bottom N, group-by dimensions and explicit
// account numbers, claiming their text.
func (p *Parser) extractModifiers(st *parseState) {
	q := st.query
	if m := reTopN.FindStringSubmatchIndex(st.text); m != nil && !st.claimed.overlaps(m[0], m[1]) {
		n, _ := strconv.Atoi(st.text[m[4]:m[5]])
		q.TopN = n
		q.SortAscending = strings.EqualFold(st.text[m[2]:m[3]], "bottom")
		st.claim(m[0], m[1])
	}
	for _, m := range reGroupBy.FindAllStringSubmatchIndex(st.text, -1) {
		if st.claimed.overlaps(m[0], m[1]) {
			continue
		}
		q.GroupBy = appendUnique(q.GroupBy, groupDimension(st.text[m[2]:m[3]]))
		st.claim(m[0], m[1])
	}
	for _, m := range reAccountNum.FindAllStringSubmatchIndex(st.text, -1) {
		if st.claimed.overlaps(m[0], m[1]) {
			continue
		}
		prefix := st.text[m[2]:m[3]]
		st.apply(semantics.Filter{AccountPrefixes: []string{prefix}})
		st.record(st.text[m[0]:m[1]], "pattern", string(semantics.CategoryAccount), 1.0, prefix)
		st.claim(m[0], m[1])
	}
}

func groupDimension(word string) string {
	w := strings.ToLower(strings.Join(strings.Fields(word), " "))
	switch {
	case strings.HasPrefix(w, "department"):
		return "department"
	case strings.HasPrefix(w, "account"):
		return "account"
	case strings.HasPrefix(w, "month"):
		return "month"
	case strings.HasPrefix(w, "quarter"):
		return "quarter"
	case strings.HasPrefix(w, "vendor"):
		return "vendor"
	case strings.HasPrefix(w, "customer"):
		return "customer"
	case strings.HasPrefix(w, "class"):
		return "class"
	case strings.HasPrefix(w, "location"):
		return "location"
	case strings.HasPrefix(w, "subsidiar"):
		return "subsidiary"
	default:
		return "transaction_type"
	}
}

// resolveStatic applies the curated vocabulary. Ambiguous terms without a
// selection become clarification options.
func (p *Parser) resolveStatic(st *parseState) {
	res := p.vocab.Resolve(st.text)
	for _, m := range res.Terms {
		if st.claimed.overlaps(m.Start, m.End) {
			continue
		}
		st.claim(m.Start, m.End)
		t := m.Term

		if t.Ambiguous() {
			options := staticOptions(m.Text, t)
			if sel, ok := selectionFor(st.selections, m.Text); ok {
				if f, ok := applySelection(sel, options, t); ok {
					st.apply(f)
					st.record(m.Text, "selection", string(t.Category), 1.0, encodeFilter(f))
					continue
				}
				st.query.Warnings = append(st.query.Warnings, "selection for \""+m.Text+"\" did not match any option")
			}
			st.needChoice(m.Text, options)
			continue
		}

		st.apply(t.Filter)
		st.record(m.Text, "static", string(t.Category), t.Confidence, encodeFilter(t.Filter))
	}
}

type word struct {
	text       string
	start, end int
}

// candidateWords splits the unclaimed text into runs of words that may name
// an entity. Stop words, numbers, claimed text and punctuation break runs.
func candidateWords(st *parseState) [][]word {
	var (
		runs [][]word
		cur  []word
	)
	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, cur)
			cur = nil
		}
	}
	for _, loc := range reWord.FindAllStringIndex(st.text, -1) {
		start, end := loc[0], loc[1]
		for end > start && strings.ContainsRune(".'’-", rune(st.text[end-1])) {
			end--
		}
		w := word{text: st.text[start:end], start: start, end: end}
		if w.text == "" || st.claimed.overlaps(start, end) || isStopWord(w.text) || isNumber(w.text) {
			flush()
			continue
		}
		if len(cur) > 0 && strings.TrimSpace(st.text[cur[len(cur)-1].end:start]) != "" {
			flush()
		}
		cur = append(cur, w)
	}
	flush()
	return runs
}

// resolveRegistry looks the remaining words up in the learned registry,
// longest n-gram first.
func (p *Parser) resolveRegistry(st *parseState) {
	for _, run := range candidateWords(st) {
		for i := 0; i < len(run); {
			consumed := 0
			for n := min(maxNGram, len(run)-i); n >= 1; n-- {
				phrase := st.text[run[i].start:run[i+n-1].end]
				if p.resolveEntity(st, phrase) {
					consumed = n
					break
				}
			}
			if consumed == 0 {
				w := run[i].text
				if looksLikeEntity(w) {
					uerr := apperrors.NewUnresolvedEntityError(w)
					p.logger.Debug("unresolved entity", map[string]interface{}{"code": uerr.Code, "details": uerr.Details})
					st.query.UnresolvedTerms = appendUnique(st.query.UnresolvedTerms, w)
					st.query.Warnings = append(st.query.Warnings,
						fmt.Sprintf("%q was not recognised and was ignored", w))
				}
				consumed = 1
			}
			i += consumed
		}
	}
}

// resolveEntity looks phrase up in every registry type. Readings from
// different types that score within the ambiguity band of the best one are
// offered as a clarification instead of being settled by type order.
func (p *Parser) resolveEntity(st *parseState, phrase string) bool {
	if p.entities == nil {
		return false
	}
	var (
		hits []registry.Match
		top  float64
	)
	for _, t := range registryOrder {
		m := p.entities.Lookup(phrase, t)
		best, ok := m.Best()
		if !ok {
			continue
		}
		hits = append(hits, m)
		top = max(top, best.Confidence)
	}
	band := p.ambiguityBand()
	contenders := hits[:0]
	for _, m := range hits {
		if best, _ := m.Best(); top-best.Confidence <= band+1e-9 {
			contenders = append(contenders, m)
		}
	}

	switch {
	case len(contenders) == 0:
		return false
	case len(contenders) == 1 && !contenders[0].Ambiguous:
		m := contenders[0]
		best, _ := m.Best()
		f, _ := decodeSelector(entityKinds[m.Type].selector + selKindValueOp + best.Entry.CanonicalName)
		st.apply(f)
		st.record(phrase, "registry", string(m.Type), best.Confidence, best.Entry.CanonicalName)
		return true
	}

	options := entityOptions(phrase, contenders)
	if sel, ok := selectionFor(st.selections, phrase); ok {
		if f, ok := applySelection(sel, options, nil); ok {
			category := "entity"
			if len(contenders) == 1 {
				category = string(contenders[0].Type)
			}
			st.apply(f)
			st.record(phrase, "selection", category, 1.0, encodeFilter(f))
			return true
		}
		st.query.Warnings = append(st.query.Warnings, "selection for \""+phrase+"\" did not match any option")
	}
	st.needChoice(phrase, options)
	return true
}

func (p *Parser) ambiguityBand() float64 {
	if b, ok := p.entities.(interface{ AmbiguityBand() float64 }); ok {
		return b.AmbiguityBand()
	}
	return registry.DefaultAmbiguityBand
}

// capsOnly words are stop words unless written in capitals: "it" is a
// pronoun, "IT" a department.
var capsOnly = map[string]bool{"it": true, "us": true, "uk": true}

var stopWords = toSet(
	"a", "an", "the", "what", "whats", "was", "were", "is", "are", "be", "been", "has", "have", "had",
	"show", "me", "give", "provide", "list", "get", "tell", "please", "display", "pull",
	"for", "by", "in", "on", "at", "of", "and", "or", "to", "from", "with", "about", "into", "per",
	"between", "across", "within", "during", "over", "under", "so", "far", "up", "as",
	"how", "much", "many", "which", "where", "when", "why", "who", "can", "could", "would", "did", "do", "does",
	"we", "our", "i", "my", "you", "your", "they", "their", "all", "any", "each", "every",
	"vs", "versus", "compared", "compare", "against",
	"expenses", "expense", "revenue", "revenues", "cost", "costs", "spend", "spent", "spending",
	"income", "total", "totals", "sum", "breakdown", "analysis", "report", "budget", "actual", "actuals",
	"variance", "profit", "loss", "margin", "amount", "amounts", "number", "numbers", "data",
	"trend", "trends", "growth", "change", "difference", "ratio", "percent", "percentage",
	"summary", "overview", "detail", "details", "line", "lines", "item", "items",
	"transactions", "transaction", "entries", "entry",
	"top", "bottom", "largest", "smallest", "highest", "lowest", "biggest", "most", "least",
	"ytd", "mtd", "qtd", "ttm", "trailing", "months", "month", "quarters", "quarter", "year", "years",
	"current", "last", "prior", "previous", "this", "that", "these", "those", "today", "yesterday",
	"week", "weekly", "monthly", "quarterly", "annually", "annual", "fy", "fiscal", "date", "period", "periods", "time",
	"accounts", "account", "assets", "liabilities", "equity", "operating", "cogs", "opex",
	"department", "departments", "dept", "team", "teams", "subsidiary", "subsidiaries", "entity", "entities",
	"it", "us", "uk",
)

func isStopWord(w string) bool {
	lower := strings.ToLower(w)
	if capsOnly[lower] {
		return w != strings.ToUpper(w)
	}
	_, ok := stopWords[lower]
	return ok
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) && r != ',' && r != '.' {
			return false
		}
	}
	return true
}

// looksLikeEntity flags words a user probably meant as a name: acronyms
// and capitalised words.
func looksLikeEntity(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 2 {
		return false
	}
	first := []rune(w)[0]
	return unicode.IsUpper(first)
}

// overallConfidence scores how much of the question was understood.
func overallConfidence(q *ParsedQuery) float64 {
	c := 0.5
	if q.Period != nil {
		c += 0.15
	}
	if len(q.Departments) > 0 || len(q.Subsidiaries) > 0 {
		c += 0.15
	}
	if len(q.AccountPrefixes) > 0 || len(q.AccountNames) > 0 || len(q.TransactionTypes) > 0 {
		c += 0.15
	}
	if q.Intent != IntentSummary {
		c += 0.1
	}
	if len(q.UnresolvedTerms) > 0 {
		c -= 0.1 * float64(len(q.UnresolvedTerms))
	}
	if n := len(strings.Fields(q.OriginalText)); n < 3 {
		c -= 0.2
	} else if n > 30 {
		c -= 0.1
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func toSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// appendUnique appends values not already present, comparing folded text.
func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if textnorm.Fold(d) == textnorm.Fold(v) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
