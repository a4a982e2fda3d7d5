package clients

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const numRetries = 3

// GCSClient is a CloudStorage backed by a Google Cloud Storage bucket.
type GCSClient struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSClient writes objects under prefix in bucketName.
func NewGCSClient(client *storage.Client, bucketName, prefix string) *GCSClient {
	return &GCSClient{client: client, bucket: client.Bucket(bucketName), prefix: prefix}
}

func (c *GCSClient) object(path string) *storage.ObjectHandle {
	if c.prefix == "" {
		return c.bucket.Object(path)
	}

	return c.bucket.Object(c.prefix + "/" + path)
}

func (c *GCSClient) ReadObject(ctx context.Context, path string) ([]byte, error) {
	reader, err := c.object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}

		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (c *GCSClient) ReadObjectAttrs(ctx context.Context, path string) (*Attrs, error) {
	attrs, err := c.object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return &Attrs{Size: attrs.Size, Metadata: attrs.Metadata}, nil
}

func (c *GCSClient) WriteObject(ctx context.Context, path string, data []byte, opts *WriteOptions) error {
	var err error
	for i := range numRetries {
		if i > 0 {
			// 1s, 2s
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<(i-1)) * time.Second):
			}
		}
		err = c.writeObjectOnce(ctx, path, data, opts)
		if err == nil {
			return nil
		}
		var apiErr *googleapi.Error
		if !errors.As(err, &apiErr) || (apiErr.Code < 500 && apiErr.Code != 429) {
			return err
		}
	}

	return err
}

func (c *GCSClient) writeObjectOnce(ctx context.Context, path string, data []byte, opts *WriteOptions) error {
	writer := c.object(path).NewWriter(ctx)
	if opts != nil {
		writer.ContentType = opts.ContentType
		writer.Metadata = opts.Metadata
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return err
	}

	return writer.Close()
}

func (c *GCSClient) Objects(ctx context.Context, prefix string) iter.Seq2[string, error] {
	full := prefix
	if c.prefix != "" {
		full = c.prefix + "/" + prefix
	}

	return func(yield func(string, error) bool) {
		it := c.bucket.Objects(ctx, &storage.Query{Prefix: full})
		for {
			attrs, err := it.Next()
			if err != nil {
				if !errors.Is(err, iterator.Done) {
					yield("", err)
				}

				return
			}
			name := attrs.Name
			if c.prefix != "" {
				name = name[len(c.prefix)+1:]
			}
			if !yield(name, nil) {
				return
			}
		}
	}
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}
