package clients

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DirClient is a CloudStorage rooted at a local directory. Metadata is not
// persisted; the content hash is recomputed on ReadObjectAttrs.
type DirClient struct {
	root string
}

// NewDirClient creates root if needed.
func NewDirClient(root string) (*DirClient, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	return &DirClient{root: root}, nil
}

func (c *DirClient) path(p string) string {
	return filepath.Join(c.root, filepath.FromSlash(p))
}

func (c *DirClient) ReadObject(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(c.path(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}

	return data, err
}

func (c *DirClient) ReadObjectAttrs(ctx context.Context, path string) (*Attrs, error) {
	data, err := c.ReadObject(ctx, path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)

	return &Attrs{
		Size:     int64(len(data)),
		Metadata: map[string]string{HashMetadataKey: hex.EncodeToString(sum[:])},
	}, nil
}

func (c *DirClient) WriteObject(_ context.Context, path string, data []byte, _ *WriteOptions) error {
	full := c.path(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	return os.WriteFile(full, data, 0o600)
}

func (c *DirClient) Objects(_ context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var names []string
		err := filepath.WalkDir(c.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(c.root, p)
			if err != nil {
				return err
			}
			if rel = filepath.ToSlash(rel); strings.HasPrefix(rel, prefix) {
				names = append(names, rel)
			}

			return nil
		})
		if err != nil {
			yield("", err)
			return
		}
		slices.Sort(names)
		for _, n := range names {
			if !yield(n, nil) {
				return
			}
		}
	}
}

func (c *DirClient) Close() error {
	return nil
}
