// Package supabase stores generated illustrations in Supabase Storage and
// reads the users table through PostgREST.
package supabase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Client wraps one supabase-go client.
type Client struct {
	client *supabase.Client
	url    string
	bucket string
}

func New(config Config) (*Client, error) {
	if strings.TrimSpace(config.URL) == "" || strings.TrimSpace(config.ServiceRoleKey) == "" {
		return nil, errors.New("supabase: url and service role key are required")
	}
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Client{
		client: client,
		url:    strings.TrimRight(config.URL, "/"),
		bucket: config.Bucket,
	}, nil
}
