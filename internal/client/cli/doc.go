// Package cli implements the gophvault command tree.
//
// Every command opens the vault cache named in the configuration, unlocks
// the vault key with the password read from the terminal, and resumes
// persisted work before doing its own. Mutating commands wait for the
// remote side; when the remote is unreachable the change stays queued and
// a later command or "gophvault sync" finishes it.
package cli
