package detector

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dbontempi/arbot/internal/domain"
)

var (
	reParen      = regexp.MustCompile(`\([^)]*\)`)
	reSpaces     = regexp.MustCompile(`\s+`)
	reAmount     = regexp.MustCompile(`\$?(\d[\d,]*(?:\.\d+)?)\s*(k|m|bn|b|million|billion|thousand)?\b`)
	reUpWord     = regexp.MustCompile(`\b(reach|hit|exceed|surpass|above|at least|top|cross)\b`)
	reDownWord   = regexp.MustCompile(`\b(below|under|less than|fall|drop|dip)\b`)
	reWinContest = regexp.MustCompile(`^will (.+?) win (?:the )?(.+)$`)
	reYear       = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	reDeadline   = regexp.MustCompile(`\bby (?:the )?(?:end of )?((january|february|march|april|may|june|july|august|september|october|november|december)(?: (\d{1,2}))?(?:,? (\d{4}))?|(\d{4}))\s*$`)
)

var months = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4,
	"may": 5, "june": 6, "july": 7, "august": 8,
	"september": 9, "october": 10, "november": 11, "december": 12,
}

// normalizeTitle lowercases, strips parenthesised qualifiers and trailing
// punctuation, and collapses whitespace so title comparisons are stable
// across listing variants.
func normalizeTitle(title string) string {
	t := strings.ToLower(title)
	t = reParen.ReplaceAllString(t, " ")
	t = reSpaces.ReplaceAllString(t, " ")
	t = strings.TrimSpace(t)
	t = strings.TrimRight(t, "?.!")
	return strings.TrimSpace(t)
}

// removeNegation strips the first negation from a normalised title. The
// result equals the title itself when no negation is present.
func removeNegation(t string) string {
	if strings.Contains(t, " not ") {
		return strings.Replace(t, " not ", " ", 1)
	}
	if strings.Contains(t, "fail to ") {
		return strings.Replace(t, "fail to ", "", 1)
	}
	return t
}

func parseAmount(num, suffix string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return 0
	}
	switch suffix {
	case "k", "thousand":
		v *= 1e3
	case "m", "million":
		v *= 1e6
	case "b", "bn", "billion":
		v *= 1e9
	}
	return v
}

// extractThreshold finds a single upward price/level threshold in a title
// and returns the title with the amount replaced by "#" plus the numeric
// value. Titles with downward wording or an ambiguous number count yield no
// threshold.
func extractThreshold(t string) (template string, value float64) {
	base, tail := t, ""
	if loc := reDeadline.FindStringIndex(t); loc != nil {
		base, tail = t[:loc[0]], t[loc[0]:]
	}
	if !reUpWord.MatchString(base) || reDownWord.MatchString(base) {
		return "", 0
	}
	ms := reAmount.FindAllStringSubmatchIndex(base, -1)
	if len(ms) != 1 {
		return "", 0
	}
	m := ms[0]
	suffix := ""
	if m[4] >= 0 {
		suffix = base[m[4]:m[5]]
	}
	value = parseAmount(base[m[2]:m[3]], suffix)
	if value <= 0 {
		return "", 0
	}
	return base[:m[0]] + "#" + base[m[1]:] + tail, value
}

// deadline is a comparable "by <date>" cutoff. Missing month/day default to
// year end, so "by 2026" sorts after "by march 2026".
type deadline struct {
	year, month, day int
}

func (d deadline) sortKey() int {
	mo, day := d.month, d.day
	if mo == 0 {
		mo = 12
	}
	if day == 0 {
		day = 31
	}
	return d.year*10000 + mo*100 + day
}

func (d deadline) before(o deadline) bool { return d.sortKey() < o.sortKey() }

// comparableWith guards against comparing a dated deadline with a yearless
// one ("by march" may mean a different year than "by june 2026").
func (d deadline) comparableWith(o deadline) bool {
	return (d.year == 0) == (o.year == 0)
}

// extractDeadline parses a trailing "by <date>" clause, returning the title
// with the clause replaced by "by #", the raw date text, and the parsed
// cutoff.
func extractDeadline(t string) (template, raw string, dl deadline) {
	m := reDeadline.FindStringSubmatchIndex(t)
	if m == nil {
		return "", "", deadline{}
	}
	sub := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return t[m[2*i]:m[2*i+1]]
	}
	if y := sub(5); y != "" {
		dl.year, _ = strconv.Atoi(y)
	} else {
		dl.month = months[sub(2)]
		if d := sub(3); d != "" {
			dl.day, _ = strconv.Atoi(d)
		}
		if y := sub(4); y != "" {
			dl.year, _ = strconv.Atoi(y)
		}
	}
	if dl.year == 0 && dl.month == 0 {
		return "", "", deadline{}
	}
	return t[:m[0]] + "by #", sub(1), dl
}

// titleFacts carries everything the rule table needs about one title,
// extracted once so the pair loop does no regex work.
type titleFacts struct {
	norm     string
	negation string // norm with its negation removed; empty when none

	winSubject string // set when the title is a "will X win Y" question
	winContest string

	thresholdTemplate string
	thresholdValue    float64

	deadlineTemplate string
	deadlineRaw      string
	deadlineDate     deadline
}

func factsFor(title string) titleFacts {
	f := titleFacts{norm: normalizeTitle(title)}
	if n := removeNegation(f.norm); n != f.norm {
		f.negation = n
	}
	if m := reWinContest.FindStringSubmatch(f.norm); m != nil {
		f.winSubject, f.winContest = m[1], m[2]
	}
	f.thresholdTemplate, f.thresholdValue = extractThreshold(f.norm)
	f.deadlineTemplate, f.deadlineRaw, f.deadlineDate = extractDeadline(f.norm)
	return f
}

// rule is one entry of the fixed pattern table. Directional rules receive
// candidate (parent, child) pairs in both orders; symmetric rules once per
// unordered pair.
type rule struct {
	name      string
	typ       domain.RelationType
	symmetric bool
	// match reports whether (a, b) satisfies the rule, with a as the parent
	// for directional types, and returns the reasoning for the relationship.
	match func(a, b titleFacts) (bool, string)
}

func defaultRules() []rule {
	return []rule{
		{
			name: "higher_threshold",
			typ:  domain.RelationImplies,
			match: func(a, b titleFacts) (bool, string) {
				if a.thresholdTemplate == "" || a.thresholdTemplate != b.thresholdTemplate {
					return false, ""
				}
				if a.thresholdValue <= b.thresholdValue {
					return false, ""
				}
				return true, fmt.Sprintf("reaching %g implies reaching %g", a.thresholdValue, b.thresholdValue)
			},
		},
		{
			name: "earlier_deadline",
			typ:  domain.RelationImplies,
			match: func(a, b titleFacts) (bool, string) {
				if a.deadlineTemplate == "" || a.deadlineTemplate != b.deadlineTemplate {
					return false, ""
				}
				if !a.deadlineDate.comparableWith(b.deadlineDate) || !a.deadlineDate.before(b.deadlineDate) {
					return false, ""
				}
				return true, fmt.Sprintf("resolving by %s implies resolving by %s", a.deadlineRaw, b.deadlineRaw)
			},
		},
		{
			name: "general_requires_nomination",
			typ:  domain.RelationRequires,
			match: func(a, b titleFacts) (bool, string) {
				if a.winSubject == "" || a.winSubject != b.winSubject {
					return false, ""
				}
				if !strings.Contains(a.winContest, "election") && !strings.Contains(a.winContest, "presidency") {
					return false, ""
				}
				if !strings.Contains(b.winContest, "nomination") {
					return false, ""
				}
				if reYear.FindString(a.winContest) != reYear.FindString(b.winContest) {
					return false, ""
				}
				return true, fmt.Sprintf("winning %s requires winning %s", a.winContest, b.winContest)
			},
		},
		{
			name:      "single_winner",
			typ:       domain.RelationMutualExclusion,
			symmetric: true,
			match: func(a, b titleFacts) (bool, string) {
				if a.winSubject == "" || b.winSubject == "" {
					return false, ""
				}
				if a.winContest != b.winContest || a.winSubject == b.winSubject {
					return false, ""
				}
				return true, fmt.Sprintf("%s and %s cannot both win %s", a.winSubject, b.winSubject, a.winContest)
			},
		},
		{
			name:      "negation_pair",
			typ:       domain.RelationMutualExclusion,
			symmetric: true,
			match: func(a, b titleFacts) (bool, string) {
				if (a.negation != "" && a.negation == b.norm) || (b.negation != "" && b.negation == a.norm) {
					return true, "one market negates the other"
				}
				return false, ""
			},
		},
		{
			name:      "same_title",
			typ:       domain.RelationEquivalence,
			symmetric: true,
			match: func(a, b titleFacts) (bool, string) {
				if a.norm != "" && a.norm == b.norm {
					return true, "identical titles after normalisation"
				}
				return false, ""
			},
		},
	}
}

// PatternDetector matches a fixed rule table against every unordered pair of
// market titles. It performs no I/O and never returns an error, so it is
// always a safe fallback.
type PatternDetector struct {
	rules  []rule
	logger *slog.Logger
}

// NewPatternDetector creates a PatternDetector with the default rule table.
func NewPatternDetector(logger *slog.Logger) *PatternDetector {
	return &PatternDetector{
		rules:  defaultRules(),
		logger: logger.With(slog.String("component", "detector_pattern")),
	}
}

// Name returns the detector identifier.
func (p *PatternDetector) Name() string { return "pattern" }

// Detect evaluates the rule table over every unordered market pair.
func (p *PatternDetector) Detect(ctx context.Context, markets []domain.Market) ([]domain.Relationship, error) {
	now := time.Now().UTC()
	facts := make([]titleFacts, len(markets))
	for i, m := range markets {
		facts[i] = factsFor(m.Title)
	}

	var rels []domain.Relationship
	seen := make(map[string]bool)
	for i := 0; i < len(markets); i++ {
		for j := i + 1; j < len(markets); j++ {
			for _, r := range p.rules {
				if ok, reason := r.match(facts[i], facts[j]); ok {
					rels = appendRelationship(rels, seen, r, markets[i], markets[j], reason, now)
					continue
				}
				if r.symmetric {
					continue
				}
				if ok, reason := r.match(facts[j], facts[i]); ok {
					rels = appendRelationship(rels, seen, r, markets[j], markets[i], reason, now)
				}
			}
		}
	}

	p.logger.DebugContext(ctx, "pattern detection complete",
		slog.Int("markets", len(markets)),
		slog.Int("relationships", len(rels)),
	)
	return rels, nil
}

// appendRelationship adds one rule match, skipping duplicates of an already
// recorded (parent, child, type) key. Symmetric relationships are stored
// with the lexically smaller market ID as parent so duplicate detections
// collapse onto one key.
func appendRelationship(rels []domain.Relationship, seen map[string]bool, r rule, parent, child domain.Market, reason string, now time.Time) []domain.Relationship {
	if !r.typ.Directional() && parent.ID > child.ID {
		parent, child = child, parent
	}
	rel := domain.Relationship{
		ID:             uuid.New().String(),
		Type:           r.typ,
		ParentMarketID: parent.ID,
		ChildMarketID:  child.ID,
		Confidence:     domain.ConfidenceHigh,
		Reasoning:      fmt.Sprintf("%s: %s", r.name, reason),
		Source:         domain.SourcePattern,
		DetectedAt:     now,
	}
	if seen[rel.Key()] {
		return rels
	}
	seen[rel.Key()] = true
	return append(rels, rel)
}
