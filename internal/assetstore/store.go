// Package assetstore publishes merged lesson audio to a JetStream object
// store bucket so other nodes can fetch it.
package assetstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
)

type Store struct {
	bucket string
	store  nats.ObjectStore
	log    *slog.Logger
}

// Open binds to bucket, creating it when missing.
func Open(js nats.JetStreamContext, bucket string, log *slog.Logger) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("assets.bucket must not be empty")
	}
	store, err := js.ObjectStore(bucket)
	if errors.Is(err, nats.ErrStreamNotFound) || errors.Is(err, nats.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "Merged lesson narration",
			Storage:     nats.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open object store bucket %q: %w", bucket, err)
	}
	return &Store{bucket: bucket, store: store, log: log.With(slog.String("component", "assetstore"))}, nil
}

// PutFile uploads the file at path under its base name and returns the
// object key.
func (s *Store) PutFile(ctx context.Context, path string, meta map[string]string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	key := filepath.Base(path)
	info, err := s.store.Put(&nats.ObjectMeta{Name: key, Metadata: meta}, f, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("put object %q to bucket %q: %w", key, s.bucket, err)
	}
	s.log.Info("uploaded asset", slog.String("key", key), slog.Uint64("bytes", info.Size))
	return key, nil
}

// Put stores data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data), nats.Context(ctx)); err != nil {
		return fmt.Errorf("put object %q to bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

// Get downloads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("get object %q from bucket %q: %w", key, s.bucket, err)
	}
	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read object %q: %w", key, readErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("close object %q: %w", key, closeErr)
	}
	return data, nil
}

func (s *Store) Delete(key string) error {
	return s.store.Delete(key)
}
