package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/client/cloud"
	"github.com/dmitrijs2005/gophvault/internal/client/config"
	"github.com/dmitrijs2005/gophvault/internal/client/metrics"
	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/notify"
	"github.com/dmitrijs2005/gophvault/internal/client/services"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
)

// App is one opened vault with everything a command needs.
type App struct {
	config      *config.Config
	logger      logging.Logger
	logCloser   io.Closer
	out         io.Writer
	vault       *vault.Vault
	provider    cloud.Provider
	metrics     *metrics.Metrics
	maintenance services.MaintenanceService
	keys        services.KeyService
	notifier    notify.Notifier
	sync        *services.SyncService
}

// newProvider builds the remote named in cfg.
func newProvider(ctx context.Context, cfg *config.Config) (cloud.Provider, error) {
	switch cfg.Provider {
	case config.ProviderS3:
		s3cfg := cloud.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
		}
		client, err := cloud.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return cloud.NewS3(client, s3cfg), nil
	default:
		return cloud.NewLocalFS(cfg.RemoteRoot, 0)
	}
}

// openApp opens the vault cache and the remote. The vault stays locked
// until unlock.
func openApp(ctx context.Context, cfg *config.Config, out io.Writer) (*App, error) {
	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		JSON:       true,
		MaxSizeMB:  10,
		MaxBackups: 3,
	})
	if err != nil {
		return nil, err
	}

	v, err := vault.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	p, err := newProvider(ctx, cfg)
	if err != nil {
		_ = v.Close()
		_ = closer.Close()
		return nil, err
	}

	m := services.NewMaintenanceService(v, logger)
	return &App{
		config:      cfg,
		logger:      logger,
		logCloser:   closer,
		out:         out,
		vault:       v,
		provider:    p,
		metrics:     metrics.New(v.DB()),
		maintenance: m,
		keys:        services.NewKeyService(v, p, m, filepath.Dir(cfg.DatabasePath), logger),
		notifier:    notify.NewLoggingNotifier(logger),
	}, nil
}

// unlock reads the password, unwraps the vault key and starts the sync
// engine. Persisted work is resumed.
func (a *App) unlock(ctx context.Context) error {
	pw, err := GetPassword(a.out, "Vault password")
	if err != nil {
		return err
	}
	defer wipe(pw)

	c, err := a.keys.Unlock(ctx, pw)
	if err != nil {
		if errors.Is(err, common.ErrVaultNotInitialized) {
			return fmt.Errorf("%w: run \"gophvault init\" first", err)
		}
		return err
	}
	return a.start(ctx, c)
}

func (a *App) start(ctx context.Context, c *cryptox.Cryptor) error {
	svc, err := services.NewSyncService(a.vault, a.provider, c, a.logger, services.Options{
		CacheDir:      a.config.CacheDir,
		Workers:       a.config.Workers,
		RetryInterval: a.config.RetryInterval,
		Notifier:      a.notifier,
		Metrics:       a.metrics,
		OnUnauthorized: func(ctx context.Context, err error) {
			a.logger.Error(ctx, "remote rejected the credentials", "error", err)
		},
	})
	if err != nil {
		return err
	}
	a.sync = svc
	return svc.Resume(ctx)
}

func (a *App) Close() {
	if a.sync != nil {
		a.sync.Close()
	}
	if err := a.vault.Close(); err != nil {
		a.logger.Warn(context.Background(), "failed to close vault", "error", err)
	}
	_ = a.logCloser.Close()
}

// resolve finds the item at vault path p, listing remote folders on the
// way when the cache does not know them yet.
func (a *App) resolve(ctx context.Context, p string) (models.Item, error) {
	p = cleanPath(p)
	item, err := a.sync.ItemByPath(ctx, p)
	if err == nil || !errors.Is(err, common.ErrItemNotFound) || p == models.RootPath {
		return item, err
	}
	parent, err := a.resolve(ctx, models.ParentPath(p))
	if err != nil {
		return models.Item{}, err
	}
	if !parent.Metadata.IsFolder() {
		return models.Item{}, fmt.Errorf("%s: %w", parent.Metadata.Path, common.ErrItemTypeMismatch)
	}
	if _, err := a.list(ctx, parent.ID()); err != nil {
		return models.Item{}, err
	}
	return a.sync.ItemByPath(ctx, p)
}

// list enumerates every page of a folder.
func (a *App) list(ctx context.Context, folderID int64) ([]models.Item, error) {
	var (
		all   []models.Item
		token *string
	)
	for {
		page, err := a.sync.Enumerate(ctx, folderID, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.NextPageToken == nil {
			return all, nil
		}
		token = page.NextPageToken
	}
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

// settle reports the outcome of queued remote work. A retryable failure
// leaves the work queued and is not an error for the command.
func (a *App) settle(ctx context.Context, what string, err error) error {
	switch {
	case err == nil:
		return nil
	case common.IsRetryable(err):
		fmt.Fprintf(a.out, "%s: remote unavailable (%v), change is queued\n", what, err)
		return nil
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func userPath(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, p[2:])
	}
	return filepath.Abs(p)
}
