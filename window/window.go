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

// Package window derives the commit search interval around a vulnerability's
// disclosure date.
package window

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/osv/fixfinder/timestamps"
)

const (
	DefaultMonthsBefore = 6
	DefaultMonthsAfter  = 6
)

var ErrNegativeOffset = errors.New("month offset must not be negative")

// Window is a closed interval of instants.
type Window struct {
	Since time.Time
	Until time.Time
}

// Contains reports whether t lies in [Since, Until].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Since) && !t.After(w.Until)
}

// Strings returns both bounds in the forge query format.
func (w Window) Strings() (since, until string) {
	return timestamps.FormatAPI(w.Since), timestamps.FormatAPI(w.Until)
}

func (w Window) String() string {
	since, until := w.Strings()
	return since + " .. " + until
}

// AddMonths moves t by n calendar months, keeping the day of month and
// clamping it to the last day of the target month. Time of day is kept.
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}

	return first.AddDate(0, 0, day-1)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// New builds the window around disclosedAt.
func New(disclosedAt time.Time, monthsBefore, monthsAfter int) (Window, error) {
	if monthsBefore < 0 || monthsAfter < 0 {
		return Window{}, fmt.Errorf("%w: before=%d after=%d", ErrNegativeOffset, monthsBefore, monthsAfter)
	}
	t := disclosedAt.UTC()

	return Window{
		Since: AddMonths(t, -monthsBefore),
		Until: AddMonths(t, monthsAfter),
	}, nil
}

// CalculateRange parses a disclosure timestamp and returns the search bounds
// formatted as "2006-01-02T15:04:05Z".
func CalculateRange(disclosedAt string, monthsBefore, monthsAfter int) (since, until string, err error) {
	t, err := timestamps.Parse(disclosedAt, timestamps.Disclosure)
	if err != nil {
		return "", "", err
	}
	w, err := New(t, monthsBefore, monthsAfter)
	if err != nil {
		return "", "", err
	}
	since, until = w.Strings()

	return since, until, nil
}

// InRange reports whether commitDate falls within [since, until]. The commit
// date is parsed as a commit timestamp and the bounds as disclosure timestamps.
func InRange(commitDate, since, until string) (bool, error) {
	c, err := timestamps.Parse(commitDate, timestamps.Commit)
	if err != nil {
		return false, err
	}
	s, err := timestamps.Parse(since, timestamps.Disclosure)
	if err != nil {
		return false, err
	}
	u, err := timestamps.Parse(until, timestamps.Disclosure)
	if err != nil {
		return false, err
	}

	return Window{Since: s, Until: u}.Contains(c), nil
}

// Calculator carries configured month offsets.
type Calculator struct {
	MonthsBefore int
	MonthsAfter  int
}

// DefaultCalculator searches six months either side of disclosure.
func DefaultCalculator() Calculator {
	return Calculator{MonthsBefore: DefaultMonthsBefore, MonthsAfter: DefaultMonthsAfter}
}

// NewCalculator rejects negative offsets.
func NewCalculator(monthsBefore, monthsAfter int) (Calculator, error) {
	if monthsBefore < 0 || monthsAfter < 0 {
		return Calculator{}, fmt.Errorf("%w: before=%d after=%d", ErrNegativeOffset, monthsBefore, monthsAfter)
	}

	return Calculator{MonthsBefore: monthsBefore, MonthsAfter: monthsAfter}, nil
}

// Range is CalculateRange with the calculator's offsets.
func (c Calculator) Range(disclosedAt string) (since, until string, err error) {
	return CalculateRange(disclosedAt, c.MonthsBefore, c.MonthsAfter)
}

// Window parses disclosedAt and returns the window with the calculator's offsets.
func (c Calculator) Window(disclosedAt string) (Window, error) {
	t, err := timestamps.Parse(disclosedAt, timestamps.Disclosure)
	if err != nil {
		return Window{}, err
	}

	return New(t, c.MonthsBefore, c.MonthsAfter)
}
