// Package triage loads the lists of vulnerabilities and repositories the
// batch driver should not spend forge requests on.
package triage

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

type denyListFile struct {
	IDs   []string `yaml:"ids"`
	Repos []string `yaml:"repos"`
}

// DenyList holds identifiers and repositories to skip. Repositories are
// compared case-insensitively in "owner/name" form.
type DenyList struct {
	IDs   map[string]bool
	Repos map[string]bool
}

// LoadDenyList reads a YAML deny list. An empty path yields an empty list.
func LoadDenyList(path string) (*DenyList, error) {
	result := &DenyList{
		IDs:   map[string]bool{},
		Repos: map[string]bool{},
	}
	if path == "" {
		return result, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var data denyListFile
	if err := yaml.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	for _, id := range data.IDs {
		result.IDs[strings.ToUpper(strings.TrimSpace(id))] = true
	}
	for _, repo := range data.Repos {
		result.Repos[strings.ToLower(strings.TrimSpace(repo))] = true
	}

	return result, nil
}

// CheckID reports whether the vulnerability is deny listed.
func (d *DenyList) CheckID(id string) bool {
	return d.IDs[strings.ToUpper(id)]
}

// CheckRepo reports whether the "owner/name" repository is deny listed.
func (d *DenyList) CheckRepo(ownerName string) bool {
	return d.Repos[strings.ToLower(ownerName)]
}
