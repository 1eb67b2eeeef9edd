// Package schema defines the persisted metadata record for one buffer file.
//
// A Record mirrors the decoded buffer header plus the identity fields used
// for change detection (path, size, modification time, fingerprint). The
// field table in fields.go is the single description of every queryable
// column; predicate evaluation and the SQL stores are both driven by it.
package schema
