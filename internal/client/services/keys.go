package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/gophvault/internal/client/cloud"
	"github.com/dmitrijs2005/gophvault/internal/client/repositories/settings"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/google/uuid"
)

// KeyFileName is the cleartext name of the wrapped vault key at the
// remote root.
const KeyFileName = "masterkey.json"

const keyFilePath = "/" + KeyFileName

// KeyService manages the password-wrapped vault key.
//
// Contract:
//   - Init: create the key file of a new vault remotely.
//   - Unlock: unwrap the key, online first, else from the cached copy.
//   - ChangePassword: rewrap the key; runs in maintenance mode.
//   - ClearOfflineData: forget the cached key file.
type KeyService interface {
	Init(ctx context.Context, password []byte) (*cryptox.Cryptor, error)
	Unlock(ctx context.Context, password []byte) (*cryptox.Cryptor, error)
	ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error
	ClearOfflineData(ctx context.Context) error
}

type keyService struct {
	vault       *vault.Vault
	provider    cloud.Provider
	maintenance MaintenanceService
	tmpDir      string
	logger      logging.Logger
}

// NewKeyService binds key management to a vault and its provider.
// Key files are staged in tmpDir.
func NewKeyService(v *vault.Vault, p cloud.Provider, m MaintenanceService, tmpDir string, logger logging.Logger) KeyService {
	return &keyService{vault: v, provider: p, maintenance: m, tmpDir: tmpDir, logger: logger.With("component", "keys")}
}

func (k *keyService) staging() string {
	return filepath.Join(k.tmpDir, filex.TempPrefix+uuid.NewString())
}

func (k *keyService) fetch(ctx context.Context) (*cryptox.KeyFile, []byte, error) {
	tmp := k.staging()
	defer os.Remove(tmp)
	if err := k.provider.Download(ctx, keyFilePath, tmp); err != nil {
		return nil, nil, translate(err)
	}
	raw, err := os.ReadFile(tmp)
	if err != nil {
		return nil, nil, err
	}
	kf, err := cryptox.ParseKeyFile(raw)
	if err != nil {
		return nil, nil, err
	}
	return kf, raw, nil
}

func (k *keyService) store(ctx context.Context, kf *cryptox.KeyFile, replace bool) ([]byte, error) {
	raw, err := kf.Marshal()
	if err != nil {
		return nil, err
	}
	tmp := k.staging()
	defer os.Remove(tmp)
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return nil, err
	}
	if _, err := k.provider.Upload(ctx, tmp, keyFilePath, replace); err != nil {
		return nil, translate(err)
	}
	return raw, nil
}

func (k *keyService) cache(ctx context.Context, raw []byte) error {
	return k.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		return r.Settings.Set(ctx, settings.KeyVaultKeyFile, raw)
	})
}

func (k *keyService) Init(ctx context.Context, password []byte) (*cryptox.Cryptor, error) {
	_, _, err := k.fetch(ctx)
	switch {
	case err == nil:
		return nil, fmt.Errorf("init vault: %w", common.ErrItemAlreadyExists)
	case !errors.Is(err, common.ErrItemNotFound):
		return nil, err
	}

	kf, vaultKey, err := cryptox.NewKeyFile(password)
	if err != nil {
		return nil, err
	}
	raw, err := k.store(ctx, kf, false)
	if err != nil {
		return nil, err
	}
	if err := k.cache(ctx, raw); err != nil {
		return nil, err
	}
	k.logger.Info(ctx, "vault initialized")
	return cryptox.NewCryptor(vaultKey)
}

// Unlock returns cryptox.ErrWrongPassword when password does not unwrap
// the key, and common.ErrVaultNotInitialized when no key file exists.
func (k *keyService) Unlock(ctx context.Context, password []byte) (*cryptox.Cryptor, error) {
	kf, raw, err := k.fetch(ctx)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrItemNotFound):
		return nil, common.ErrVaultNotInitialized
	case common.IsRetryable(err):
		k.logger.Info(ctx, "remote unreachable, using cached key file", "error", err)
		raw, err = k.vault.Read().Settings.Get(ctx, settings.KeyVaultKeyFile)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, fmt.Errorf("no cached key file: %w", common.ErrNoConnectivity)
		}
		if kf, err = cryptox.ParseKeyFile(raw); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	vaultKey, err := kf.Unlock(password)
	if err != nil {
		return nil, err
	}
	if err := k.cache(ctx, raw); err != nil {
		return nil, err
	}
	return cryptox.NewCryptor(vaultKey)
}

// ChangePassword rewraps the vault key. File contents and names stay as
// they are.
func (k *keyService) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error {
	return k.maintenance.RunInMaintenanceMode(ctx, func(ctx context.Context) error {
		kf, _, err := k.fetch(ctx)
		if err != nil {
			return err
		}
		rewrapped, err := kf.Rewrap(oldPassword, newPassword)
		if err != nil {
			return err
		}
		raw, err := k.store(ctx, rewrapped, true)
		if err != nil {
			return err
		}
		if err := k.cache(ctx, raw); err != nil {
			return err
		}
		k.logger.Info(ctx, "vault password changed")
		return nil
	})
}

func (k *keyService) ClearOfflineData(ctx context.Context) error {
	return k.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		return r.Settings.Delete(ctx, settings.KeyVaultKeyFile)
	})
}
