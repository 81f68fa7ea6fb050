package risk

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	numberRe = regexp.MustCompile(`\b\d[\d,]*\.?\d*\b`)
	dateRe   = regexp.MustCompile(
		`(?i)\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2}|` +
			`\d{1,2}\s+(January|February|March|April|May|June|July|August|September|` +
			`October|November|December)\s+\d{4})\b`,
	)
	partyNameRe = regexp.MustCompile(`"([A-Z][a-zA-Z\s]+)"`)
	wordRe      = regexp.MustCompile(`\b[a-z]+\b`)
)

// Analyzer scores (original, rewritten) text pairs into findings.
// It is stateless; a single Analyzer is safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an Analyzer with the given thresholds.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze runs every check against the text pair and returns the union of
// their findings. Checks never dedupe across categories.
func (a *Analyzer) Analyze(original, rewritten string) []Finding {
	findings := []Finding{}
	findings = append(findings, a.checkSemanticDeviation(original, rewritten)...)
	findings = append(findings, a.checkLengthRatio(original, rewritten)...)
	findings = append(findings, a.checkNumericDrift(original, rewritten)...)
	findings = append(findings, a.checkDateDrift(original, rewritten)...)
	findings = append(findings, a.checkPartyChanges(original, rewritten)...)
	return findings
}

func (a *Analyzer) checkSemanticDeviation(original, rewritten string) []Finding {
	similarity := CosineSimilarity(original, rewritten)

	switch {
	case similarity < a.cfg.CriticalSimilarity:
		return []Finding{{
			Severity: SeverityCritical,
			Category: "semantic_deviation",
			Description: fmt.Sprintf(
				"Rewrite diverges severely from the original (similarity=%.2f). "+
					"Legal intent may not be preserved.",
				similarity,
			),
			Score: 1.0 - similarity,
		}}
	case similarity < a.cfg.HighSimilarity:
		return []Finding{{
			Severity: SeverityHigh,
			Category: "semantic_deviation",
			Description: fmt.Sprintf(
				"High semantic deviation from the original (similarity=%.2f). "+
					"Review carefully to ensure legal intent is preserved.",
				similarity,
			),
			Score: 1.0 - similarity,
		}}
	}
	return nil
}

func (a *Analyzer) checkLengthRatio(original, rewritten string) []Finding {
	if len(original) == 0 {
		return nil
	}
	ratio := float64(len(rewritten)) / float64(len(original))
	if ratio >= a.cfg.MinLengthRatio && ratio <= a.cfg.MaxLengthRatio {
		return nil
	}

	desc := fmt.Sprintf(
		"Rewrite is %.0f%% of the original length. Significant content may have been dropped.",
		ratio*100,
	)
	score := 1.0 - ratio
	if ratio > a.cfg.MaxLengthRatio {
		desc = fmt.Sprintf(
			"Rewrite is %.0f%% of the original length. Significant content may have been added.",
			ratio*100,
		)
		score = math.Min(1.0, (ratio-1.0)/a.cfg.MaxLengthRatio)
	}

	return []Finding{{
		Severity:    SeverityHigh,
		Category:    "length_anomaly",
		Description: desc,
		Score:       score,
	}}
}

func (a *Analyzer) checkNumericDrift(original, rewritten string) []Finding {
	origNums := stringSet(numberRe.FindAllString(original, -1))
	newNums := stringSet(numberRe.FindAllString(rewritten, -1))

	var findings []Finding
	if removed := setDiff(origNums, newNums); len(removed) > 0 {
		findings = append(findings, Finding{
			Severity: SeverityHigh,
			Category: "numeric_drift",
			Description: fmt.Sprintf(
				"Numbers removed that were in the original: %s",
				strings.Join(capList(removed, 10), ", "),
			),
			Score: 1.0,
		})
	}
	if added := setDiff(newNums, origNums); len(added) > 0 {
		findings = append(findings, Finding{
			Severity: SeverityHigh,
			Category: "numeric_drift",
			Description: fmt.Sprintf(
				"New numbers introduced not in the original: %s",
				strings.Join(capList(added, 10), ", "),
			),
			Score: 0.8,
		})
	}
	return findings
}

func (a *Analyzer) checkDateDrift(original, rewritten string) []Finding {
	origDates := stringSet(dateRe.FindAllString(original, -1))
	newDates := stringSet(dateRe.FindAllString(rewritten, -1))

	changed := append(setDiff(origDates, newDates), setDiff(newDates, origDates)...)
	if len(changed) == 0 {
		return nil
	}
	sort.Strings(changed)

	return []Finding{{
		Severity: SeverityHigh,
		Category: "date_drift",
		Description: fmt.Sprintf(
			"Date values changed: %s",
			strings.Join(capList(changed, 5), ", "),
		),
		Score: 1.0,
	}}
}

func (a *Analyzer) checkPartyChanges(original, rewritten string) []Finding {
	origParties := stringSet(partyMatches(original))
	newParties := stringSet(partyMatches(rewritten))

	removed := setDiff(origParties, newParties)
	if len(removed) == 0 {
		return nil
	}

	return []Finding{{
		Severity: SeverityCritical,
		Category: "party_change",
		Description: fmt.Sprintf(
			"Party names removed: %s",
			strings.Join(capList(removed, 5), ", "),
		),
		Score: 1.0,
	}}
}

// CosineSimilarity computes cosine similarity over term-frequency vectors of
// the two texts. Returns a value in [0, 1] where 1 means identical vocabulary
// distribution. Empty texts score 0.
func CosineSimilarity(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	freqA := termFrequency(tokensA)
	freqB := termFrequency(tokensB)

	var dot, magA, magB float64
	for term, fa := range freqA {
		dot += fa * freqB[term]
		magA += fa * fa
	}
	for _, fb := range freqB {
		magB += fb * fb
	}
	if magA == 0 || magB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	return math.Round(math.Min(1.0, sim)*10000) / 10000
}

func tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

func termFrequency(tokens []string) map[string]float64 {
	freq := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	total := float64(len(tokens))
	for t := range freq {
		freq[t] /= total
	}
	return freq
}

func partyMatches(text string) []string {
	var parties []string
	for _, m := range partyNameRe.FindAllStringSubmatch(text, -1) {
		parties = append(parties, m[1])
	}
	return parties
}

func stringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func setDiff(a, b map[string]struct{}) []string {
	var diff []string
	for item := range a {
		if _, ok := b[item]; !ok {
			diff = append(diff, item)
		}
	}
	sort.Strings(diff)
	return diff
}

func capList(items []string, limit int) []string {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
