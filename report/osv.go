package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/osv/fixfinder/git"
	"github.com/google/osv/fixfinder/models"
	"github.com/google/osv/fixfinder/timestamps"
	"github.com/ossf/osv-schema/bindings/go/osvconstants"
	"github.com/ossf/osv-schema/bindings/go/osvschema"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ErrNoFix is returned when a result has no candidate that names its
// vulnerability.
var ErrNoFix = errors.New("no candidate mentions the vulnerability")

// ToOSV builds an OSV record whose GIT range is fixed by the top candidate.
// Only candidates that mention the vulnerability directly are exported.
func ToOSV(r *models.Result, modified time.Time) (*osvschema.Vulnerability, error) {
	top, ok := r.Top()
	if !ok || !top.MatchesTarget {
		return nil, fmt.Errorf("%s: %w", r.VulnID, ErrNoFix)
	}
	repo, err := git.ParseRepoURL(r.RepoURL)
	if err != nil {
		return nil, err
	}

	patterns := make([]any, len(top.MatchedPatterns))
	for i, p := range top.MatchedPatterns {
		patterns[i] = p
	}
	databaseSpecific, err := structpb.NewStruct(map[string]any{
		"score":            top.Score,
		"matched_patterns": patterns,
		"purl":             repo.PURL(),
	})
	if err != nil {
		return nil, err
	}

	v := &osvschema.Vulnerability{
		SchemaVersion: osvconstants.SchemaVersion,
		Id:            string(r.VulnID),
		Modified:      timestamppb.New(modified.UTC()),
		Affected: []*osvschema.Affected{{
			Ranges: []*osvschema.Range{{
				Type: osvschema.Range_GIT,
				Repo: repo.URL(),
				Events: []*osvschema.Event{
					{Introduced: "0"},
					{Fixed: top.SHA},
				},
			}},
			DatabaseSpecific: databaseSpecific,
		}},
		References: []*osvschema.Reference{
			{Type: osvschema.Reference_FIX, Url: repo.CommitURL(top.SHA)},
			{Type: osvschema.Reference_PACKAGE, Url: repo.URL()},
		},
	}
	if published, err := timestamps.Parse(r.DisclosedAt, timestamps.Disclosure); err == nil {
		v.Published = timestamppb.New(published)
	}

	return v, nil
}

// OSVPath is the object name of the OSV record exported for a vulnerability
// in one repository.
func OSVPath(id models.VulnID, repoURL string) string {
	return path.Join(osvFolder, string(id), repoKey(repoURL)+".json")
}

// WriteOSV exports r as an OSV record. The stored hash covers the record
// without its modified time, so an unchanged record keeps its old one.
func (w *Writer) WriteOSV(ctx context.Context, r *models.Result) (bool, error) {
	v, err := ToOSV(r, time.Time{})
	if err != nil {
		return false, err
	}
	stable, err := MarshalOSV(v)
	if err != nil {
		return false, err
	}

	v.Modified = timestamppb.New(time.Now().UTC())
	data, err := MarshalOSV(v)
	if err != nil {
		return false, err
	}

	return w.putHashed(ctx, OSVPath(r.VulnID, r.RepoURL), data, hashOf(stable), "application/json")
}

// MarshalOSV renders v as indented JSON with a stable layout. protojson output
// varies its whitespace between builds.
func MarshalOSV(v *osvschema.Vulnerability) ([]byte, error) {
	unstableJSON, err := protojson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var vuln any
	if err := json.Unmarshal(unstableJSON, &vuln); err != nil {
		return nil, err
	}

	return json.MarshalIndent(vuln, "", "  ")
}
