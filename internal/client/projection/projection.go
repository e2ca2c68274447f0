// Package projection turns cached metadata into the items the file system
// host sees: metadata plus local materialization and the last upload error.
package projection

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
)

// Build projects metas with one upload-task query and one cached-file
// query for the whole batch.
func Build(ctx context.Context, r *vault.Repositories, metas []models.ItemMetadata) ([]models.Item, error) {
	if len(metas) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
	}

	uploads, err := r.Uploads.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("project items: %w", err)
	}
	cached, err := r.CachedFiles.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("project items: %w", err)
	}

	items := make([]models.Item, len(metas))
	for i, m := range metas {
		items[i] = project(m, uploadOf(uploads, m.ID), cachedOf(cached, m.ID))
	}
	return items, nil
}

// One projects a single item.
func One(ctx context.Context, r *vault.Repositories, meta models.ItemMetadata) (models.Item, error) {
	items, err := Build(ctx, r, []models.ItemMetadata{meta})
	if err != nil {
		return models.Item{}, err
	}
	return items[0], nil
}

func uploadOf(m map[int64]models.UploadTaskRecord, id int64) *models.UploadTaskRecord {
	if rec, ok := m[id]; ok {
		return &rec
	}
	return nil
}

func cachedOf(m map[int64]models.CachedFileInfo, id int64) *models.CachedFileInfo {
	if info, ok := m[id]; ok {
		return &info
	}
	return nil
}

func project(meta models.ItemMetadata, upload *models.UploadTaskRecord, cached *models.CachedFileInfo) models.Item {
	item := models.Item{Metadata: meta}
	if upload.Failed() {
		item.LastError = common.ErrorFromCode(*upload.ErrorCode, *upload.ErrorDomain)
	}
	// a local copy with a pending upload is newer than anything remote
	if cached != nil && (upload != nil || cached.IsCurrent(meta.LastModified)) {
		item.LocalPath = cached.LocalPath
		item.NewestVersionLocallyCached = true
	}
	return item
}
