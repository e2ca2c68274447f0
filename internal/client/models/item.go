// Package models defines the plain data records persisted in the vault cache:
// item metadata, cached-file info, task records and the item projection
// handed to the file system host.
package models

import (
	"time"

	"github.com/dmitrijs2005/gophvault/internal/timex"
)

// ItemType classifies a cached item.
type ItemType string

const (
	ItemTypeFile   ItemType = "file"
	ItemTypeFolder ItemType = "folder"
)

// ItemStatus is the sync state of an item.
type ItemStatus string

const (
	StatusUploaded    ItemStatus = "uploaded"
	StatusUploading   ItemStatus = "uploading"
	StatusDownloaded  ItemStatus = "downloaded"
	StatusUploadError ItemStatus = "upload_error"
)

// RootID is the fixed identity of the vault root folder.
const RootID int64 = 1

// ItemMetadata mirrors one remote file or folder.
type ItemMetadata struct {
	ID           int64
	Name         string
	Type         ItemType
	Size         *int64
	LastModified *time.Time
	ParentID     int64
	// Path is stored case-preserving and compared case-insensitively.
	Path   string
	Status ItemStatus

	IsPlaceholder   bool
	IsMaybeOutdated bool

	// Either of these marks the item as part of the working set.
	FavoriteRank *int64
	TagData      []byte

	// SyncAnchor is the store anchor of the last write to this row.
	SyncAnchor int64
}

func (m *ItemMetadata) IsFolder() bool { return m.Type == ItemTypeFolder }

func (m *ItemMetadata) IsRoot() bool { return m.ID == RootID }

// InWorkingSet reports whether the host should index the item as recent/favorited.
func (m *ItemMetadata) InWorkingSet() bool {
	return m.FavoriteRank != nil || m.TagData != nil
}

// CachedFileInfo describes a locally materialized copy of a file item.
type CachedFileInfo struct {
	ItemID            int64
	LocalPath         string
	LocalLastModified time.Time
	// RemoteLastModified is the remote timestamp the local copy corresponds to.
	RemoteLastModified *time.Time
}

// IsCurrent reports whether the local copy matches the remote version
// identified by remoteLastModified, at one-second granularity.
func (c *CachedFileInfo) IsCurrent(remoteLastModified *time.Time) bool {
	if c == nil || c.RemoteLastModified == nil || remoteLastModified == nil {
		return false
	}
	return timex.SameSecond(*c.RemoteLastModified, *remoteLastModified)
}
