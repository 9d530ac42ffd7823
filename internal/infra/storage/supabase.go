// Package storage archives finished conversations to Supabase Storage.
package storage

import (
	"bytes"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// Config holds Supabase connection settings.
type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseStorage uploads objects into one Supabase bucket.
type SupabaseStorage struct {
	client *supabase.Client
	bucket string
}

func NewSupabase(cfg Config) (*SupabaseStorage, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("missing supabase configuration: url and service role key required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStorage{client: client, bucket: cfg.Bucket}, nil
}

func (s *SupabaseStorage) Upload(key, contentType string, data []byte) error {
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload to supabase: %w", err)
	}
	return nil
}
