// Package persistence stores session snapshots and checkpoints.
//
// Two namespaces are kept: sessions, keyed by session id and overwritten on
// every save, and checkpoints, keyed by "<session_id>-<unix-ms>" and never
// overwritten. Both FileStore and SQLiteStore copy snapshots on the way in
// and out.
package persistence
