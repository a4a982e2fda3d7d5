// Package git implements routines for locating repositories and reading their
// commit history, either remotely or from local clones.
package git

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

const defaultHost = "github.com"

var ErrUnsupportedURL = errors.New("unsupported repository url")

// Repo identifies a repository on a forge.
type Repo struct {
	Host  string
	Owner string
	Name  string
}

// ParseRepoURL extracts host, owner and name from the URL forms found in
// vulnerability references:
//
//	https://github.com/owner/repo
//	https://github.com/owner/repo.git
//	https://github.com/owner/repo/commit/<sha>
//	github.com/owner/repo
//	git@github.com:owner/repo.git
//	owner/repo
func ParseRepoURL(raw string) (Repo, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Repo{}, fmt.Errorf("%w: empty", ErrUnsupportedURL)
	}

	var host, path string
	switch {
	case strings.Contains(s, "://"):
		u, err := url.Parse(s)
		if err != nil {
			return Repo{}, fmt.Errorf("%w: %q: %w", ErrUnsupportedURL, raw, err)
		}
		host, path = u.Hostname(), u.Path
	case strings.HasPrefix(s, "git@"):
		hostPath, ok := strings.CutPrefix(s, "git@")
		if !ok {
			return Repo{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
		}
		host, path, ok = strings.Cut(hostPath, ":")
		if !ok {
			return Repo{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
		}
	default:
		first, rest, _ := strings.Cut(s, "/")
		if strings.Contains(first, ".") {
			host, path = first, rest
		} else {
			host, path = defaultHost, s
		}
	}

	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return Repo{}, fmt.Errorf("%w: %q has no owner/name", ErrUnsupportedURL, raw)
	}
	name := strings.TrimSuffix(parts[1], ".git")
	if parts[0] == "" || name == "" {
		return Repo{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}

	return Repo{
		Host:  strings.TrimPrefix(strings.ToLower(host), "www."),
		Owner: parts[0],
		Name:  name,
	}, nil
}

// FullName returns "owner/name".
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// URL returns the canonical https URL of the repository.
func (r Repo) URL() string {
	return "https://" + r.Host + "/" + r.FullName()
}

// CloneURL returns the https clone URL.
func (r Repo) CloneURL() string {
	return r.URL() + ".git"
}

// CommitURL returns the web URL of a commit.
func (r Repo) CommitURL(sha string) string {
	return r.URL() + "/commit/" + sha
}

func (r Repo) String() string {
	return r.Host + "/" + r.FullName()
}

// IsGitHub reports whether the repository is hosted on github.com.
func (r Repo) IsGitHub() bool {
	return r.Host == defaultHost
}

// PURL returns an unversioned generic purl, e.g. pkg:generic/github.com/owner/repo.
func (r Repo) PURL() string {
	ns := r.Host + "/" + r.Owner

	return packageurl.NewPackageURL("generic", ns, r.Name, "", nil, "").ToString()
}

// BuildGenericRepoPURL parses repoURL and returns its generic purl.
func BuildGenericRepoPURL(repoURL string) (string, error) {
	r, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}

	return r.PURL(), nil
}
