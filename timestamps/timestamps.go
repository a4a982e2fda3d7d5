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

// Package timestamps parses the disclosure and commit timestamp formats seen in
// vulnerability databases and forge APIs into UTC instants.
package timestamps

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Kind selects the family of layouts a raw timestamp is parsed with.
type Kind int

const (
	// Disclosure timestamps come from vulnerability records.
	Disclosure Kind = iota
	// Commit timestamps come from version control history.
	Commit
)

func (k Kind) String() string {
	switch k {
	case Disclosure:
		return "disclosure"
	case Commit:
		return "commit"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

const (
	MinutePrecision     = "2006-01-02T15:04Z"
	SecondPrecision     = "2006-01-02T15:04:05Z"
	FractionalPrecision = "2006-01-02T15:04:05.999999999Z"
	SpaceSeparated      = "2006-01-02 15:04:05"
	DateOnly            = "2006-01-02"

	// APIFormat is the second-precision UTC layout used for forge query bounds.
	APIFormat = SecondPrecision
)

var (
	// ErrUnrecognizedFormat is wrapped by every ParseError.
	ErrUnrecognizedFormat = errors.New("unrecognized timestamp format")

	disclosureLayouts = []string{
		MinutePrecision,
		SecondPrecision,
		FractionalPrecision,
		SpaceSeparated,
		DateOnly,
	}

	commitLayouts = []string{
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
	}

	// Generic ISO-8601 forms, tried after the kind specific layouts. Offsets
	// are normalized to ±hh:mm before these run.
	isoLayouts = []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
	}

	// A numeric offset directly after a time of day, e.g. "21:01:08+00" or "21:01+0530".
	offsetRE = regexp.MustCompile(`^(.*\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?)\s?([+-])(\d{2}):?(\d{2})?$`)
)

// ParseError reports a timestamp that matched none of the layouts for its kind.
type ParseError struct {
	Raw  string
	Kind Kind
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s timestamp %q", e.Kind, e.Raw)
}

func (e *ParseError) Unwrap() error {
	return ErrUnrecognizedFormat
}

// Layouts returns the kind specific layouts in the order they are tried.
func Layouts(kind Kind) []string {
	if kind == Commit {
		return append([]string{}, commitLayouts...)
	}

	return append([]string{}, disclosureLayouts...)
}

// Parse converts raw into a UTC instant. Disclosure layouts are tried in
// order, then a generic ISO-8601 fallback with "Z" read as "+00:00". Commit
// timestamps may carry +NN, +NNNN or +NN:NN offsets; a timestamp without an
// offset is taken to be UTC. Parse never substitutes a default instant.
func Parse(raw string, kind Kind) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, &ParseError{Raw: raw, Kind: kind}
	}

	layouts := disclosureLayouts
	if kind == Commit {
		layouts = commitLayouts
		s = normalizeOffset(s)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	iso := normalizeOffset(s)
	if strings.HasSuffix(s, "Z") {
		iso = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, iso); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, &ParseError{Raw: raw, Kind: kind}
}

// MustParse is like Parse but panics on error. It is meant for tests and
// package level tables.
func MustParse(raw string, kind Kind) time.Time {
	t, err := Parse(raw, kind)
	if err != nil {
		panic(err)
	}

	return t
}

// normalizeOffset rewrites a trailing ±NN or ±NNNN offset as ±NN:NN so the
// Z07:00 layouts accept it.
func normalizeOffset(s string) string {
	m := offsetRE.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	minutes := m[4]
	if minutes == "" {
		minutes = "00"
	}

	return m[1] + m[2] + m[3] + ":" + minutes
}

// Format renders t in UTC using layout.
func Format(t time.Time, layout string) string {
	return t.UTC().Format(layout)
}

// FormatAPI renders t as a second-precision UTC string, e.g. "2020-08-04T17:15:00Z".
func FormatAPI(t time.Time) string {
	return Format(t, APIFormat)
}

// OffsetDays returns (to - from) in fractional days.
func OffsetDays(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24
}

// FormatDuration renders d with one decimal in the largest unit below a day
// boundary: "42.0s", "3.5m", "12.0h" or "2.5d".
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs < 60:
		return fmt.Sprintf("%.1fs", secs)
	case secs < 3600:
		return fmt.Sprintf("%.1fm", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%.1fh", secs/3600)
	default:
		return fmt.Sprintf("%.1fd", secs/86400)
	}
}
