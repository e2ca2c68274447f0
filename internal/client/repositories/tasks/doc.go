// Package tasks implements the five task ledgers (upload, download,
// reparent, deletion, enumeration). Every record is keyed by the id of the
// item it belongs to, so an item has at most one pending task of each kind.
//
// Every path that creates or reactivates a task first calls
// maintenance.Guard on the same handle. Callers run these writes inside
// one transaction together with the metadata change they belong to.
//
// Upload, download, reparent and enumeration rows reference their item
// with ON DELETE CASCADE. Deletion rows describe an item that is already
// gone from the store and carry everything needed for the remote call.
package tasks
