package storage

import "context"

// MaxObjectSize bounds how much of a single object GetObject will read.
const MaxObjectSize = 64 << 10

// Service reads small configuration objects from remote object storage.
type Service interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}
