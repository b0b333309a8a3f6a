// Package storage defines the backing store of a Warden instance and
// provides the YAML fixture store.
//
// A Store answers every lookup the permission builder, the decision engine,
// the restriction service and the token validator need:
//
//	store, err := storage.OpenFixtureStore("warden.yaml", log)
//	if err != nil {
//		return err
//	}
//	builder := rbac.NewBuilder(store, log)
//
// The fixture store keeps the whole document in memory. Watch reloads it when
// the file changes and reports the affected accounts so that cached
// permission summaries can be evicted.
//
// SQL-backed stores live in the postgres subpackage.
package storage
