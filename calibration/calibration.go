// Package calibration derives search window recommendations from known
// vulnerability fixes by measuring how far each fix lands from disclosure.
package calibration

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/google/osv/fixfinder/models"
	"github.com/google/osv/fixfinder/timestamps"
	"github.com/google/osv/fixfinder/utility/logger"
)

// DefaultMinScore keeps only fixes the matcher was confident about.
const DefaultMinScore = 65

var ErrNoSamples = errors.New("no usable ground truth pairs")

// ReportedPercentiles are the percentiles listed in every report.
var ReportedPercentiles = []int{50, 75, 90, 95, 99}

// Sample is the signed distance between disclosure and fix for one pair.
// Positive days mean the fix landed after disclosure.
type Sample struct {
	VulnID models.VulnID `json:"cve_id"`
	SHA    string        `json:"hash"`
	Score  int           `json:"score"`
	Days   float64       `json:"days"`
}

// Percentile is one row of the percentile table, over absolute offsets.
type Percentile struct {
	P    int     `json:"p"`
	Days float64 `json:"days"`
}

// Bucket is one histogram range [Min, Max) over absolute offsets. A zero Max
// leaves the range unbounded.
type Bucket struct {
	Label   string  `json:"label"`
	Min     float64 `json:"min_days"`
	Max     float64 `json:"max_days,omitempty"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Contains reports whether days falls in the bucket's range.
func (b Bucket) Contains(days float64) bool {
	return days >= b.Min && (b.Max == 0 || days < b.Max)
}

// Recommendation is a suggested half window width. P is 0 for the one
// derived from the mean.
type Recommendation struct {
	Label  string  `json:"label"`
	P      int     `json:"percentile,omitempty"`
	Days   float64 `json:"days"`
	Months float64 `json:"months"`
}

// Report summarizes the offset distribution.
type Report struct {
	MinScore        int              `json:"min_score"`
	Samples         []Sample         `json:"samples"`
	Unparsable      int              `json:"unparsable"`
	BelowThreshold  int              `json:"below_threshold"`
	Before          int              `json:"before_disclosure"`
	After           int              `json:"after_disclosure"`
	Mean            float64          `json:"mean_days"`
	Median          float64          `json:"median_days"`
	Min             float64          `json:"min_days"`
	Max             float64          `json:"max_days"`
	StdDev          float64          `json:"stddev_days"`
	HasStdDev       bool             `json:"has_stddev"`
	Percentiles     []Percentile     `json:"percentiles"`
	Histogram       []Bucket         `json:"histogram"`
	Recommendations []Recommendation `json:"recommendations"`
	SuggestedMonths int              `json:"suggested_months"`
}

var buckets = []Bucket{
	{Label: "<= 1 week", Min: 0, Max: 7},
	{Label: "1 week - 1 month", Min: 7, Max: 30},
	{Label: "1 - 3 months", Min: 30, Max: 90},
	{Label: "3 - 6 months", Min: 90, Max: 180},
	{Label: "6 - 12 months", Min: 180, Max: 365},
	{Label: "> 12 months", Min: 365},
}

// Calibrator turns ground truth pairs into a Report.
type Calibrator struct {
	MinScore int
}

// New returns a Calibrator keeping pairs scored at least minScore.
func New(minScore int) *Calibrator {
	return &Calibrator{MinScore: minScore}
}

// Offset returns the signed number of days from disclosure to commit.
func Offset(p models.GroundTruthPair) (float64, error) {
	disclosed, err := timestamps.Parse(p.DisclosedAt, timestamps.Disclosure)
	if err != nil {
		return 0, err
	}
	committed, err := timestamps.Parse(p.CommittedAt, timestamps.Commit)
	if err != nil {
		return 0, err
	}

	return timestamps.OffsetDays(disclosed, committed), nil
}

// Analyze computes the report. Pairs below the score threshold are counted
// and dropped; pairs with unparsable timestamps are logged, counted and
// dropped.
func (c *Calibrator) Analyze(pairs []models.GroundTruthPair) (*Report, error) {
	r := &Report{MinScore: c.MinScore}
	for _, p := range pairs {
		if p.Score < c.MinScore {
			r.BelowThreshold++
			continue
		}
		days, err := Offset(p)
		if err != nil {
			r.Unparsable++
			logger.Warn("Skipping pair with unparsable timestamp",
				slog.String("cve", string(p.VulnID)), slog.String("hash", p.SHA), slog.Any("err", err))

			continue
		}
		r.Samples = append(r.Samples, Sample{VulnID: p.VulnID, SHA: p.SHA, Score: p.Score, Days: days})
		if days < 0 {
			r.Before++
		} else {
			r.After++
		}
	}
	if len(r.Samples) == 0 {
		return r, ErrNoSamples
	}

	abs := make([]float64, len(r.Samples))
	for i, s := range r.Samples {
		abs[i] = math.Abs(s.Days)
	}
	slices.Sort(abs)

	r.Mean = mean(abs)
	r.Median = median(abs)
	r.Min = abs[0]
	r.Max = abs[len(abs)-1]
	if len(abs) > 1 {
		r.StdDev = stdDev(abs, r.Mean)
		r.HasStdDev = true
	}
	for _, p := range ReportedPercentiles {
		r.Percentiles = append(r.Percentiles, Percentile{P: p, Days: percentile(abs, p)})
	}
	r.Histogram = histogram(abs)
	r.Recommendations = []Recommendation{
		recommend("efficiency", 50, percentile(abs, 50)),
		recommend("balanced", 75, percentile(abs, 75)),
		recommend("coverage", 90, percentile(abs, 90)),
		recommend("conservative", 95, percentile(abs, 95)),
		recommend("average", 0, r.Mean),
	}
	r.SuggestedMonths = int(math.Ceil(percentile(abs, 90) / 30))

	return r, nil
}

func recommend(label string, p int, days float64) Recommendation {
	return Recommendation{Label: label, P: p, Days: days, Months: days / 30}
}

// percentile indexes the sorted slice at int(n*p/100), clamped to the last element.
func percentile(sorted []float64, p int) float64 {
	idx := min(len(sorted)*p/100, len(sorted)-1)
	return sorted[idx]
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}

	return sum / float64(len(xs))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// stdDev is the sample standard deviation.
func stdDev(xs []float64, m float64) float64 {
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}

	return math.Sqrt(ss / float64(len(xs)-1))
}

func histogram(abs []float64) []Bucket {
	out := slices.Clone(buckets)
	for _, d := range abs {
		for i := range out {
			if out[i].Contains(d) {
				out[i].Count++
				break
			}
		}
	}
	for i := range out {
		out[i].Percent = float64(out[i].Count) / float64(len(abs)) * 100
	}

	return out
}

// Coverage returns the share of samples whose absolute offset fits within
// the given number of days.
func (r *Report) Coverage(days float64) float64 {
	if len(r.Samples) == 0 {
		return 0
	}
	n := 0
	for _, s := range r.Samples {
		if math.Abs(s.Days) <= days {
			n++
		}
	}

	return float64(n) / float64(len(r.Samples))
}

func (r *Report) String() string {
	return fmt.Sprintf("%d samples, median %.1f days, p90 %.1f days", len(r.Samples), r.Median, percentileOf(r, 90))
}

func percentileOf(r *Report, p int) float64 {
	for _, row := range r.Percentiles {
		if row.P == p {
			return row.Days
		}
	}

	return 0
}
