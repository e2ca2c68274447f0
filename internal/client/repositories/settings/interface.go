package settings

import (
	"context"
)

// Repository is a small key/value store for per-vault settings that must
// survive restarts, such as the cached vault key file.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
}
