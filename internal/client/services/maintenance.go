package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/logging"
)

// MaintenanceService toggles maintenance mode, during which no new task
// can be created. Enabling fails while any task other than a failed
// upload exists.
type MaintenanceService interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	IsEnabled(ctx context.Context) (bool, error)
	// RunInMaintenanceMode enables the mode, runs fn and disables it
	// again, also when fn fails.
	RunInMaintenanceMode(ctx context.Context, fn func(ctx context.Context) error) error
}

type maintenanceService struct {
	vault  *vault.Vault
	logger logging.Logger
}

func NewMaintenanceService(v *vault.Vault, logger logging.Logger) MaintenanceService {
	return &maintenanceService{vault: v, logger: logger.With("component", "maintenance")}
}

func (m *maintenanceService) Enable(ctx context.Context) error {
	err := m.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		return r.Maintenance.Enable(ctx)
	})
	if err != nil {
		return err
	}
	m.logger.Info(ctx, "maintenance mode enabled")
	return nil
}

func (m *maintenanceService) Disable(ctx context.Context) error {
	err := m.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		return r.Maintenance.Disable(ctx)
	})
	if err != nil {
		return err
	}
	m.logger.Info(ctx, "maintenance mode disabled")
	return nil
}

func (m *maintenanceService) IsEnabled(ctx context.Context) (bool, error) {
	return m.vault.Read().Maintenance.IsEnabled(ctx)
}

func (m *maintenanceService) RunInMaintenanceMode(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.Enable(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	if derr := m.Disable(context.WithoutCancel(ctx)); derr != nil {
		return errors.Join(err, derr)
	}
	return err
}
