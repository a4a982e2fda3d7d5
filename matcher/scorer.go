package matcher

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/osv/fixfinder/models"
)

// Scorer applies the weighted keyword rules. It is immutable after
// construction and safe for concurrent use.
type Scorer struct {
	idRE  *regexp.Regexp
	fix   []string
	noise []string
}

// NewScorer validates and compiles the tables in s.
func NewScorer(s Signals) (*Scorer, error) {
	pattern := s.IDPattern
	if pattern == "" {
		pattern = DefaultIDPattern
	}
	if !strings.HasPrefix(pattern, "(?i)") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling id pattern: %w", err)
	}
	fix, err := normalizeKeywords("fix", s.FixKeywords)
	if err != nil {
		return nil, err
	}
	noise, err := normalizeKeywords("noise", s.NoiseKeywords)
	if err != nil {
		return nil, err
	}

	return &Scorer{idRE: re, fix: fix, noise: noise}, nil
}

var defaultScorer = mustNewScorer(DefaultSignals())

func mustNewScorer(s Signals) *Scorer {
	sc, err := NewScorer(s)
	if err != nil {
		panic(err)
	}

	return sc
}

// Default returns the shared scorer built from DefaultSignals.
func Default() *Scorer {
	return defaultScorer
}

// ExtractIDs returns the distinct identifiers in text, upper-cased, in order
// of first appearance.
func (s *Scorer) ExtractIDs(text string) []string {
	var ids []string
	for _, m := range s.idRE.FindAllString(text, -1) {
		m = strings.ToUpper(m)
		if !slices.Contains(ids, m) {
			ids = append(ids, m)
		}
	}

	return ids
}

// Mentions reports whether message names target directly.
func (s *Scorer) Mentions(message, target string) bool {
	return slices.Contains(s.ExtractIDs(message), normalizeTarget(target))
}

func normalizeTarget(target string) string {
	return strings.ToUpper(strings.TrimSpace(target))
}

// Breakdown is the per-rule contribution to a score.
type Breakdown struct {
	Direct     int
	Fix        int
	Noise      int
	Length     int
	Collateral int
	Signals    []Signal
}

// Total is the sum of all rule contributions.
func (b Breakdown) Total() int {
	return b.Direct + b.Fix + b.Noise + b.Length + b.Collateral
}

// Breakdown evaluates every rule against message.
func (s *Scorer) Breakdown(message, target string) Breakdown {
	var b Breakdown
	target = normalizeTarget(target)
	lower := strings.ToLower(message)
	ids := s.ExtractIDs(message)

	if target != "" && slices.Contains(ids, target) {
		b.Direct = DirectMentionPoints
		b.Signals = append(b.Signals, Signal{Rule: DirectMention, Detail: target})
	}

	fixCount := 0
	for _, kw := range s.fix {
		if strings.Contains(lower, kw) {
			fixCount++
			b.Signals = append(b.Signals, Signal{Rule: FixKeyword, Detail: kw})
		}
	}
	b.Fix = min(fixCount*FixKeywordPoints, FixKeywordCap)

	noiseCount := 0
	for _, kw := range s.noise {
		if strings.Contains(lower, kw) {
			noiseCount++
			b.Signals = append(b.Signals, Signal{Rule: NoiseKeyword, Detail: kw})
		}
	}
	b.Noise = -min(noiseCount*NoisePenalty, NoiseCap)

	if n := utf8.RuneCountInString(message); n < ShortMessageLength {
		b.Length = -ShortMessagePenalty
		b.Signals = append(b.Signals, Signal{Rule: ShortMessage, Detail: fmt.Sprintf("%d characters", n)})
	}

	var others []string
	for _, id := range ids {
		if id != target {
			others = append(others, id)
		}
	}
	if len(others) > 0 {
		slices.Sort(others)
		b.Collateral = CollateralPoints
		b.Signals = append(b.Signals, Signal{Rule: CollateralMention, Detail: strings.Join(others, ", ")})
	}

	return b
}

// Score returns the weighted score of message against target together with
// the signals that produced it.
func (s *Scorer) Score(message, target string) (int, []Signal) {
	b := s.Breakdown(message, target)
	return b.Total(), b.Signals
}

// MatchCandidate is a commit annotated with its score.
type MatchCandidate struct {
	SHA           string
	Message       string
	Author        string
	Date          string
	Score         int
	Signals       []Signal
	MatchesTarget bool
}

// Patterns renders the signals as strings.
func (m MatchCandidate) Patterns() []string {
	out := make([]string, len(m.Signals))
	for i, s := range m.Signals {
		out[i] = s.String()
	}

	return out
}

// Flatten converts the candidate to its serialized form.
func (m MatchCandidate) Flatten() models.Candidate {
	return models.Candidate{
		SHA:             m.SHA,
		Message:         m.Message,
		Author:          m.Author,
		Date:            m.Date,
		Score:           m.Score,
		MatchedPatterns: m.Patterns(),
		MatchesTarget:   m.MatchesTarget,
	}
}

// AnalyzeCommit scores a single commit. MatchesTarget is decided by the
// direct mention check alone, independent of the score.
func (s *Scorer) AnalyzeCommit(c models.RawCommit, target string) MatchCandidate {
	score, signals := s.Score(c.Message, target)
	author := c.AuthorName
	if author == "" {
		author = "Unknown"
	}

	return MatchCandidate{
		SHA:           c.SHA,
		Message:       c.Message,
		Author:        author,
		Date:          c.AuthorDate,
		Score:         score,
		Signals:       signals,
		MatchesTarget: s.Mentions(c.Message, target),
	}
}
