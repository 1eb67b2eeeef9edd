// Package sync keeps the record store consistent with buffer files on disk.
//
// Overview
//
// A Synchronizer walks a Scope (root directories, optionally recursive),
// fingerprints every file whose name follows the buffer naming convention
// and compares it with the stored record:
//
//	File System                     Synchronizer                Store
//	  root/**/p12c0b01   ──stat──▶  fingerprint equal? ─yes─▶  (skip)
//	                                      │ no
//	                                      ▼
//	                                decode header (worker pool)
//	                                      │
//	                     indexed record ◀─┴─▶ failed record
//	                                      │
//	                     vanished paths ──┴─▶ delete
//	                                      ▼
//	                                one transaction per pass
//
// A pass commits all of its changes in one transaction, so readers see the
// index either before or after it. A pass that finds nothing to change does
// not open a transaction at all.
//
// Failed files
//
// A file that cannot be decoded is stored as a failed record carrying the
// error. If it was indexed before, its previous header fields are kept.
// Failed records are hidden from queries and not decoded again until their
// fingerprint changes.
//
// Usage
//
//	database, err := db.Open(".bufcache/index.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//	if err := database.InitSchema(); err != nil {
//	    return err
//	}
//
//	syncer := sync.New(database, sync.Options{})
//	report, err := syncer.Synchronize(ctx, sync.Scope{Roots: []string{"/data"}, Recursive: true})
//
// Concurrency
//
// Decoding runs on a bounded worker pool. Passes over overlapping scopes are
// serialized: the second waits for the first, or fails with ErrScopeBusy when
// Options.FailFast is set. Passes over disjoint scopes run concurrently.
package sync
