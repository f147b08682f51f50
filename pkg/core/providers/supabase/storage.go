package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/vango-go/terranogyneco/pkg/core/tools"
)

// ImageStore uploads illustrations to a public bucket and returns their
// public object URL.
type ImageStore struct {
	bucket  string
	baseURL string
	prefix  string
	upload  func(bucket, key string, data io.Reader) error
}

// ImageStore returns a store writing under prefix in the configured bucket.
func (c *Client) ImageStore(prefix string) (*ImageStore, error) {
	if c.bucket == "" {
		return nil, errors.New("supabase: bucket is required for image storage")
	}
	return &ImageStore{
		bucket:  c.bucket,
		baseURL: c.url,
		prefix:  prefix,
		upload: func(bucket, key string, data io.Reader) error {
			_, err := c.client.Storage.UploadFile(bucket, key, data)
			return err
		},
	}, nil
}

func (s *ImageStore) Put(ctx context.Context, img tools.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(img.Data) == 0 {
		return "", tools.ErrNoImage
	}
	key := s.prefix + uuid.NewString() + extension(img.MIMEType)
	if err := s.upload(s.bucket, key, bytes.NewReader(img.Data)); err != nil {
		return "", fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return s.publicURL(key), nil
}

func (s *ImageStore) publicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key)
}

func extension(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
