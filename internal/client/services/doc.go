// Package services contains the sync orchestrator of the gophvault client.
//
// Accepting a local mutation (create folder, import or change a file, move,
// delete) is one vault write: the metadata change and the matching task
// record commit together. A scheduler then drains the task against the
// cloud provider and applies the outcome in a second write. Callers that
// need the outcome wait on the future returned with the accepted item.
//
// The package also holds the maintenance service used by vault-wide
// operations and the key service that unlocks the vault.
package services
