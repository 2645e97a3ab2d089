// Package storage provides the durable object store the handshake subsystem
// coordinates through: opaque byte blobs addressed by logical bucket and key.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is the durable object adapter. Backends must present read-after-write
// consistency per key; the handshake wait loop depends on it.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}

// PutJSON serializes v and writes it under bucket/key. Serialization failures
// are reported distinctly from store failures.
func PutJSON(ctx context.Context, s Store, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrSerialization)
	}
	return s.Put(ctx, bucket, key, data)
}

// GetJSON reads bucket/key and unmarshals into v. Deserialization failures
// are reported distinctly from store failures.
func GetJSON(ctx context.Context, s Store, bucket, key string, v any) error {
	data, err := s.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrDeserialization)
	}
	return nil
}
