// Package store re-exports the GTT persistence layer under the gtt tree so
// the executor and monitor depend on "tradeguard/gtt/store" rather than
// reaching into the shared database package directly. The actual table
// definitions and queries live in tradeguard/store, alongside the order
// mirror it also backs.
package store

import (
	dbstore "tradeguard/store"
)

// Store is the GTT persistence handle: create/get/list/update/cancel plus
// activity statistics.
type Store = dbstore.GTTStore

// StatusUpdate carries the optional fields UpdateStatus may set.
type StatusUpdate = dbstore.StatusUpdate

// Statistics is the 24h activity summary returned by Store.Statistics.
type Statistics = dbstore.Statistics

// New wraps an already-migrated database handle's GTT store.
func New(s *dbstore.Store) *Store {
	return s.GTT()
}
