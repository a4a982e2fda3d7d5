// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package matcher scores commits by how likely they are to fix a given
// vulnerability and ranks them into a candidate list.
package matcher

import (
	"errors"
	"fmt"
	"strings"
)

// Point values for each rule.
const (
	DirectMentionPoints = 100
	FixKeywordPoints    = 10
	FixKeywordCap       = 50
	NoisePenalty        = 5
	NoiseCap            = 30
	ShortMessagePenalty = 10
	ShortMessageLength  = 20
	CollateralPoints    = 20
)

// DefaultIDPattern matches CVE identifiers in any letter case.
const DefaultIDPattern = `(?i)CVE-\d{4}-\d{4,7}`

var defaultFixKeywords = []string{
	"fix", "fixes", "fixed", "fixing",
	"patch", "patched", "patching",
	"resolve", "resolves", "resolved",
	"address", "addresses", "addressed",
	"repair", "repaired",
	"correct", "corrected",
	"security",
	"vulnerability", "vulnerabilities",
	"exploit",
	"buffer overflow", "use after free", "null pointer",
	"injection", "xss", "csrf",
	"memory leak", "memory corruption",
	"dos", "denial of service",
	"privilege escalation",
	"authentication bypass",
	"directory traversal",
	"remote code execution", "rce",
	"sql injection",
	"cross-site scripting",
}

// Plain substring matches: "unmerged" counts as "merge".
var defaultNoiseKeywords = []string{
	"test", "tests", "testing",
	"doc", "docs", "documentation",
	"readme",
	"comment", "comments",
	"typo", "typos",
	"style", "format", "formatting",
	"refactor", "refactoring",
	"cleanup",
	"update version",
	"bump version",
	"merge",
}

// Signals are the keyword tables and identifier pattern a Scorer is built from.
type Signals struct {
	IDPattern     string   `toml:"id_pattern"`
	FixKeywords   []string `toml:"fix_keywords"`
	NoiseKeywords []string `toml:"noise_keywords"`
}

// DefaultSignals returns a fresh copy of the built-in tables.
func DefaultSignals() Signals {
	return Signals{
		IDPattern:     DefaultIDPattern,
		FixKeywords:   append([]string{}, defaultFixKeywords...),
		NoiseKeywords: append([]string{}, defaultNoiseKeywords...),
	}
}

var errEmptyKeyword = errors.New("empty keyword")

// normalizeKeywords lower-cases the list and drops repeats, keeping first
// occurrence order.
func normalizeKeywords(kind string, in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for i, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			return nil, fmt.Errorf("%s keyword %d: %w", kind, i, errEmptyKeyword)
		}
		if seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}

	return out, nil
}

// Rule names the heuristic that produced a Signal.
type Rule int

const (
	DirectMention Rule = iota
	FixKeyword
	NoiseKeyword
	ShortMessage
	CollateralMention
)

func (r Rule) String() string {
	return [...]string{"Mentions target", "Fix keyword", "Noise keyword", "Short message", "Mentions other IDs"}[r]
}

// Signal is one labeled explanation attached to a score.
type Signal struct {
	Rule   Rule
	Detail string
}

func (s Signal) String() string {
	if s.Detail == "" {
		return s.Rule.String()
	}

	return s.Rule.String() + ": " + s.Detail
}
