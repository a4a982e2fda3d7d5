// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clients provides the blob storage backends reports are written to.
package clients

import (
	"context"
	"errors"
	"iter"
)

// HashMetadataKey is the object metadata key holding the sha256 of the
// content as written by the report writers.
const HashMetadataKey = "sha256-hash"

// ErrNotFound is returned when a storage object is not found.
var ErrNotFound = errors.New("object not found")

// WriteOptions specifies options for a write operation.
type WriteOptions struct {
	// ContentType sets the MIME type of the object.
	ContentType string
	// Metadata is stored alongside the object.
	Metadata map[string]string
}

// Attrs contains metadata about a storage object.
type Attrs struct {
	Size     int64
	Metadata map[string]string
}

// CloudStorage defines a generic interface for blob storage operations.
type CloudStorage interface {
	// ReadObject reads the raw contents of an object.
	// It must return ErrNotFound if the object does not exist.
	ReadObject(ctx context.Context, path string) ([]byte, error)

	// ReadObjectAttrs reads the attributes of an object.
	// It must return ErrNotFound if the object does not exist.
	ReadObjectAttrs(ctx context.Context, path string) (*Attrs, error)

	// WriteObject writes a complete byte slice to a storage object.
	WriteObject(ctx context.Context, path string, data []byte, opts *WriteOptions) error

	// Objects returns an iterator over objects that match the prefix.
	Objects(ctx context.Context, prefix string) iter.Seq2[string, error]

	// Close closes the CloudStorage client.
	Close() error
}
