// Package quality scores free text and personal names for gibberish and spam.
//
// Every check is a fixed, inspectable heuristic. Each one subtracts a penalty
// from 100; penalties stack and the total is clamped to [0,100].
package quality

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Acceptance thresholds. Names are held to a higher bar because they are too
// short for entropy and cluster signals to be reliable on their own. Neither
// value is statistically derived; tune them against real traffic.
const (
	MessageThreshold = 30
	NameThreshold    = 40
)

// Score assigned to an empty message. An empty field is not spam; whether it
// is required is the caller's business.
const EmptyMessageScore = 50

// Flags name the checks that fired. They are for logs and metrics only and
// never reach the submitter.
const (
	FlagHighEntropy      = "high_entropy"
	FlagLowEntropy       = "low_entropy"
	FlagConsonantCluster = "consonant_cluster"
	FlagRepetition       = "repetition"
	FlagSpamKeywords     = "spam_keywords"
	FlagURLDensity       = "url_density"
	FlagUnbrokenRun      = "unbroken_run"
	FlagInvalidChars     = "invalid_chars"
	FlagCasePattern      = "case_pattern"
	FlagTooShort         = "too_short"
	FlagEmpty            = "empty"
)

const (
	highEntropyBits     = 5.5
	lowEntropyBits      = 2.0
	lowEntropyMinLen    = 20
	clusterRunLen       = 4
	messageClusterRatio = 0.4
	nameClusterRatio    = 0.5
	charRepeatRun       = 6
	wordRepeatMinWords  = 4
	wordRepeatShare     = 0.6
	spamPenaltyEach     = 15
	spamPenaltyCap      = 60
	urlsAllowed         = 2
	urlPenaltyEach      = 20
	maxLetterRunSoft    = 20
	maxLetterRunHard    = 30
	invalidCharRatio    = 0.2
	alternationRatio    = 0.4
	alternationMinLen   = 5
	maxInteriorCapitals = 2
	minNameLen          = 2
	maxScore            = 100
)

const (
	penaltyHighEntropy   = 40
	penaltyLowEntropy    = 30
	penaltyCluster       = 35
	penaltyRepetition    = 25
	penaltyLetterRunSoft = 40
	penaltyLetterRunHard = 75
	penaltyInvalidChars  = 40
	penaltyCasePattern   = 30
	penaltyTooShort      = 30
)

// Result is the outcome of a content or name check.
type Result struct {
	Acceptable bool
	Score      int
	// Reason is advisory text for the submitter. Empty when acceptable.
	Reason string
	Flags  []string
}

// spamKeywords are pharmaceutical, financial and urgency terms. Terms that
// legitimate property enquiries use (loan, mortgage, offer) are left out.
var spamKeywords = []string{ //nolint:gochecknoglobals
	"viagra",
	"cialis",
	"pharmacy",
	"casino",
	"bitcoin",
	"crypto",
	"forex",
	"lottery",
	"jackpot",
	"make money",
	"earn money",
	"work from home",
	"double your",
	"wire transfer",
	"investment opportunity",
	"100% free",
	"risk-free",
	"act now",
	"click here",
	"buy now",
	"limited time",
	"seo services",
}

var urlPattern = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`) //nolint:gochecknoglobals

type check struct {
	flag    string
	penalty int
	reason  string
}

// AnalyzeContent scores free-text message content.
func AnalyzeContent(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Acceptable: true, Score: EmptyMessageScore, Flags: []string{FlagEmpty}}
	}

	fired := baseChecks(trimmed, messageClusterRatio)
	switch run := longestASCIILetterRun(urlPattern.ReplaceAllString(trimmed, " ")); {
	case run > maxLetterRunHard:
		fired = append(fired, check{FlagUnbrokenRun, penaltyLetterRunHard, "Message appears to contain random characters."})
	case run > maxLetterRunSoft:
		fired = append(fired, check{FlagUnbrokenRun, penaltyLetterRunSoft, "Message appears to contain random characters."})
	}
	return finish(fired, MessageThreshold)
}

// ValidateName scores a personal name.
func ValidateName(name string) Result {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Result{Acceptable: false, Score: 0, Reason: "Please enter your name.", Flags: []string{FlagEmpty}}
	}

	fired := baseChecks(trimmed, nameClusterRatio)
	if invalidRatio(trimmed) > invalidCharRatio {
		fired = append(fired, check{FlagInvalidChars, penaltyInvalidChars, "Name contains unexpected characters."})
	}
	if suspiciousCase(trimmed) {
		fired = append(fired, check{FlagCasePattern, penaltyCasePattern, "Name capitalization looks unusual."})
	}
	if len([]rune(trimmed)) < minNameLen {
		fired = append(fired, check{FlagTooShort, penaltyTooShort, "Please enter your full name."})
	}
	return finish(fired, NameThreshold)
}

func baseChecks(text string, clusterLimit float64) []check {
	var fired []check
	lower := strings.ToLower(text)

	h := entropy(lower)
	switch {
	case h > highEntropyBits:
		fired = append(fired, check{FlagHighEntropy, penaltyHighEntropy, "Text appears to contain random characters."})
	case h < lowEntropyBits && len([]rune(lower)) > lowEntropyMinLen:
		fired = append(fired, check{FlagLowEntropy, penaltyLowEntropy, "Text contains excessive repetition."})
	}

	if clusterRatio(urlPattern.ReplaceAllString(lower, " ")) > clusterLimit {
		fired = append(fired, check{FlagConsonantCluster, penaltyCluster, "Text appears to contain random characters."})
	}

	if repeated(lower) {
		fired = append(fired, check{FlagRepetition, penaltyRepetition, "Text contains excessive repetition."})
	}

	if p := spamPenalty(lower); p > 0 {
		fired = append(fired, check{FlagSpamKeywords, p, "Text looks like promotional content."})
	}

	if n := len(urlPattern.FindAllStringIndex(text, -1)); n > urlsAllowed {
		fired = append(fired, check{FlagURLDensity, (n - urlsAllowed) * urlPenaltyEach, "Please include fewer links."})
	}

	return fired
}

func finish(fired []check, threshold int) Result {
	score := maxScore
	res := Result{}
	for _, c := range fired {
		score -= c.penalty
		res.Flags = append(res.Flags, c.flag)
	}
	res.Score = clamp(score)
	res.Acceptable = res.Score >= threshold
	if !res.Acceptable && len(fired) > 0 {
		res.Reason = heaviest(fired).reason
	}
	return res
}

func heaviest(fired []check) check {
	best := fired[0]
	for _, c := range fired[1:] {
		if c.penalty > best.penalty {
			best = c
		}
	}
	return best
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// entropy is the Shannon entropy in bits per rune.
func entropy(s string) float64 {
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// isConsonant only considers Latin letters; other scripts never form clusters.
func isConsonant(r rune) bool {
	return r >= 'a' && r <= 'z' && !isVowel(r)
}

// clusterRatio is the share of letters that sit inside runs of four or more
// consecutive consonants. s must be lower-cased.
func clusterRatio(s string) float64 {
	letters, inClusters, run := 0, 0, 0
	flush := func() {
		if run >= clusterRunLen {
			inClusters += run
		}
		run = 0
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
		}
		if isConsonant(r) {
			run++
			continue
		}
		flush()
	}
	flush()
	if letters == 0 {
		return 0
	}
	return float64(inClusters) / float64(letters)
}

// repeated reports a non-space character repeated six or more times in a row,
// or one word making up more than 60% of four or more words.
func repeated(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev && !unicode.IsSpace(r) {
			run++
			if run >= charRepeatRun {
				return true
			}
			continue
		}
		prev, run = r, 1
	}

	words := strings.Fields(s)
	if len(words) < wordRepeatMinWords {
		return false
	}
	counts := make(map[string]int, len(words))
	top := 0
	for _, w := range words {
		counts[w]++
		if counts[w] > top {
			top = counts[w]
		}
	}
	return float64(top)/float64(len(words)) > wordRepeatShare
}

// spamPenalty charges once per distinct keyword present. s must be lower-cased.
func spamPenalty(s string) int {
	p := 0
	for _, kw := range spamKeywords {
		if strings.Contains(s, kw) {
			p += spamPenaltyEach
		}
	}
	if p > spamPenaltyCap {
		return spamPenaltyCap
	}
	return p
}

func longestASCIILetterRun(s string) int {
	longest, run := 0, 0
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	return longest
}

func invalidRatio(s string) float64 {
	total, bad := 0, 0
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || r == ' ' || r == '-' || r == '\'' {
			continue
		}
		bad++
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}

// suspiciousCase flags frequent case flips between adjacent letters, or a
// word with more than two capitals after its first letter mixed with lower
// case (McDonald has one, SYFRxwxSpc has several). Flips are counted only
// between letters after the first of each word, so a leading capital and
// short words like "Jo" or "Li" never count.
func suspiciousCase(s string) bool {
	pairs, flips := 0, 0
	for _, word := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) {
		runes := []rune(word)
		interiorUpper, hasLower := 0, false
		for i, r := range runes {
			if unicode.IsLower(r) {
				hasLower = true
			}
			if i == 0 {
				continue
			}
			if unicode.IsUpper(r) {
				interiorUpper++
			}
			if i == 1 {
				continue
			}
			pairs++
			if unicode.IsUpper(r) != unicode.IsUpper(runes[i-1]) {
				flips++
			}
		}
		if hasLower && interiorUpper > maxInteriorCapitals {
			return true
		}
	}
	if len([]rune(s)) <= alternationMinLen || pairs == 0 {
		return false
	}
	return float64(flips)/float64(pairs) > alternationRatio
}
