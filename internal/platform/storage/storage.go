// Package storage keeps capture bodies too large to inline in redis. It
// uploads to a Supabase bucket when configured and falls back to DATA_DIR
// outside production.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antoineross/supabase-go"
	storage_go "github.com/supabase-community/storage-go"

	"discovery/internal/config"
	"discovery/internal/logger"
)

const (
	prefixSupabase = "supabase:"
	prefixLocal    = "local:"
)

var ErrUnknownRef = errors.New("unknown blob reference")

type Service struct {
	log     *logger.Logger
	client  *supabase.Client
	bucket  string
	dataDir string
	prod    bool
}

// New wires Supabase storage from cfg. Production requires it.
func New(cfg config.Config) (*Service, error) {
	s := &Service{
		log:     logger.New("BlobStorage"),
		bucket:  cfg.SupabaseBucket,
		dataDir: cfg.DataDir,
		prod:    cfg.AppEnv == "production",
	}
	if s.prod && (cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" || cfg.SupabaseBucket == "") {
		return nil, fmt.Errorf("production environment requires Supabase configuration: NEXT_PUBLIC_SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY, and SUPABASE_STORAGE_BUCKET must be set")
	}
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
		if err != nil {
			if s.prod {
				return nil, fmt.Errorf("failed to initialize Supabase client in production: %w", err)
			}
			s.log.LogWarnf("failed to initialize Supabase client: %v", err)
		} else {
			s.client = client
		}
	}
	return s, nil
}

// NewLocal stores everything under dir
func NewLocal(dir string) *Service {
	return &Service{log: logger.New("BlobStorage"), dataDir: dir}
}

// Put stores data under key and returns a reference for Get and Delete
func (s *Service) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	key = strings.TrimLeft(filepath.ToSlash(key), "/")
	if s.client != nil && s.bucket != "" {
		upsert := true
		_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
			ContentType: &contentType,
			Upsert:      &upsert,
		})
		if err == nil {
			return prefixSupabase + key, nil
		}
		if s.prod {
			return "", fmt.Errorf("failed to upload %s to Supabase storage: %w", key, err)
		}
		s.log.LogWarnf("Supabase upload failed, using local storage: %v", err)
	} else if s.prod {
		return "", fmt.Errorf("supabase storage is required in production environment")
	}

	path := filepath.Join(s.dataDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return prefixLocal + key, nil
}

func (s *Service) Get(_ context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, prefixSupabase):
		if s.client == nil {
			return nil, fmt.Errorf("supabase not configured for %s", ref)
		}
		return s.client.Storage.DownloadFile(s.bucket, strings.TrimPrefix(ref, prefixSupabase))
	case strings.HasPrefix(ref, prefixLocal):
		return os.ReadFile(s.localPath(ref))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
}

// Delete removes the blob. Missing local files are not an error.
func (s *Service) Delete(_ context.Context, ref string) error {
	switch {
	case strings.HasPrefix(ref, prefixSupabase):
		if s.client == nil {
			return fmt.Errorf("supabase not configured for %s", ref)
		}
		_, err := s.client.Storage.RemoveFile(s.bucket, []string{strings.TrimPrefix(ref, prefixSupabase)})
		return err
	case strings.HasPrefix(ref, prefixLocal):
		if err := os.Remove(s.localPath(ref)); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownRef, ref)
}

func (s *Service) localPath(ref string) string {
	return filepath.Join(s.dataDir, filepath.FromSlash(strings.TrimPrefix(ref, prefixLocal)))
}
