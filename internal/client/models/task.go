package models

import "time"

// TaskKind names one of the five task ledgers.
type TaskKind string

const (
	TaskUpload      TaskKind = "upload"
	TaskDownload    TaskKind = "download"
	TaskReparent    TaskKind = "reparent"
	TaskDeletion    TaskKind = "deletion"
	TaskEnumeration TaskKind = "enumeration"
)

var TaskKinds = []TaskKind{TaskUpload, TaskDownload, TaskReparent, TaskDeletion, TaskEnumeration}

// UploadTaskRecord is a pending upload of a file, or creation of a folder.
// The error fields are either all set or all nil.
type UploadTaskRecord struct {
	ItemID       int64
	LastFailedAt *time.Time
	ErrorCode    *int
	ErrorDomain  *string
}

// Failed reports whether the last attempt was recorded as a failure.
func (u *UploadTaskRecord) Failed() bool {
	return u != nil && u.ErrorCode != nil
}

type DownloadTaskRecord struct {
	ItemID          int64
	ReplaceExisting bool
	LocalTargetPath string
}

// ReparentTaskRecord is a pending move and/or rename.
type ReparentTaskRecord struct {
	ItemID      int64
	SourcePath  string
	TargetPath  string
	OldParentID int64
	NewParentID int64
}

// DeletionTaskRecord outlives the item row it was created for, so it
// keeps everything needed to issue the remote delete.
type DeletionTaskRecord struct {
	ItemID   int64
	Path     string
	ParentID int64
	ItemType ItemType
}

type EnumerationTaskRecord struct {
	ItemID    int64
	PageToken *string
}
