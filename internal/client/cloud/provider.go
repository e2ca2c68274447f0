// Package cloud defines the remote storage capability the sync engine
// drives, the error kinds providers must report, and the bundled
// providers: a local directory tree and S3-compatible object storage.
package cloud

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
)

// Error kinds every provider reports. Wrap them with %w.
var (
	ErrNotFound       = errors.New("cloud: item not found")
	ErrAlreadyExists  = errors.New("cloud: item already exists")
	ErrTypeMismatch   = errors.New("cloud: item type mismatch")
	ErrParentNotFound = errors.New("cloud: parent folder not found")
	ErrUnauthorized   = errors.New("cloud: unauthorized")
	ErrNoConnectivity = errors.New("cloud: no connectivity")
	ErrRateLimited    = errors.New("cloud: rate limited")
	ErrQuotaExceeded  = errors.New("cloud: quota exceeded")
)

// ItemMetadata is what a provider knows about one remote item. Path is
// the provider's canonical identifier for the item.
type ItemMetadata struct {
	Name         string
	Path         string
	Type         models.ItemType
	Size         *int64
	LastModified *time.Time
}

// ItemList is one page of a folder listing.
type ItemList struct {
	Items         []ItemMetadata
	NextPageToken *string
}

// Provider is a remote file tree addressed by slash-separated absolute paths.
// Timeouts and transport retries are the provider's business.
type Provider interface {
	FetchMetadata(ctx context.Context, path string) (ItemMetadata, error)
	ListFolder(ctx context.Context, path string, pageToken *string) (ItemList, error)
	Download(ctx context.Context, path string, localPath string) error
	Upload(ctx context.Context, localPath string, path string, replaceExisting bool) (ItemMetadata, error)
	CreateFolder(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error
	Move(ctx context.Context, from, to string) error
}

func ptr[T any](v T) *T { return &v }
