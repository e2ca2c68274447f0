package vault

import (
	"github.com/dmitrijs2005/gophvault/internal/client/repositories/cachedfiles"
	"github.com/dmitrijs2005/gophvault/internal/client/repositories/maintenance"
	"github.com/dmitrijs2005/gophvault/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophvault/internal/client/repositories/settings"
	"github.com/dmitrijs2005/gophvault/internal/client/repositories/tasks"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
)

// Repositories bundles every store of one vault, bound to one handle.
type Repositories struct {
	Metadata     metadata.Repository
	CachedFiles  cachedfiles.Repository
	Uploads      tasks.UploadRepository
	Downloads    tasks.DownloadRepository
	Reparents    tasks.ReparentRepository
	Deletions    tasks.DeletionRepository
	Enumerations tasks.EnumerationRepository
	Maintenance  maintenance.Repository
	Settings     settings.Repository
}

// NewRepositories binds all repositories to db, which is either the
// pool or a transaction.
func NewRepositories(db dbx.DBTX) *Repositories {
	return &Repositories{
		Metadata:     metadata.NewSQLiteRepository(db),
		CachedFiles:  cachedfiles.NewSQLiteRepository(db),
		Uploads:      tasks.NewSQLiteUploadRepository(db),
		Downloads:    tasks.NewSQLiteDownloadRepository(db),
		Reparents:    tasks.NewSQLiteReparentRepository(db),
		Deletions:    tasks.NewSQLiteDeletionRepository(db),
		Enumerations: tasks.NewSQLiteEnumerationRepository(db),
		Maintenance:  maintenance.NewSQLiteRepository(db),
		Settings:     settings.NewSQLiteRepository(db),
	}
}
