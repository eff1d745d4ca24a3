package auth

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// ObjectReader fetches a single object from remote storage.
type ObjectReader interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// ResolveSigningKey loads the token signing key once at startup. When bucket
// is set the key is read from that object, otherwise the inline secret is used.
func ResolveSigningKey(ctx context.Context, inline, bucket, key string, objects ObjectReader) ([]byte, error) {
	if strings.TrimSpace(bucket) == "" {
		secret := strings.TrimSpace(inline)
		if secret == "" {
			return nil, ErrSigningKeyUnavailable
		}
		return []byte(secret), nil
	}

	if objects == nil {
		return nil, fmt.Errorf("%w: no object storage configured for bucket %s", ErrSigningKeyUnavailable, bucket)
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: object key is required", ErrSigningKeyUnavailable)
	}

	data, err := objects.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKeyUnavailable, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: object s3://%s/%s is empty", ErrSigningKeyUnavailable, bucket, key)
	}
	return data, nil
}
