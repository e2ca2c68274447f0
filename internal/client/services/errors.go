package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/client/cloud"
	"github.com/dmitrijs2005/gophvault/internal/common"
)

var cloudErrors = []struct {
	kind error
	err  error
}{
	{cloud.ErrNotFound, common.ErrItemNotFound},
	{cloud.ErrAlreadyExists, common.ErrItemAlreadyExists},
	{cloud.ErrTypeMismatch, common.ErrItemTypeMismatch},
	{cloud.ErrParentNotFound, common.ErrParentFolderMissing},
	{cloud.ErrUnauthorized, common.ErrUnauthorized},
	{cloud.ErrNoConnectivity, common.ErrNoConnectivity},
	{cloud.ErrRateLimited, common.ErrRateLimited},
	{cloud.ErrQuotaExceeded, common.ErrQuotaExceeded},
}

// translate maps provider error kinds onto the common taxonomy. The
// original error stays in the chain.
func translate(err error) error {
	if err == nil {
		return nil
	}
	for _, e := range cloudErrors {
		if errors.Is(err, e.kind) {
			return fmt.Errorf("%w: %w", e.err, err)
		}
	}
	return err
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
