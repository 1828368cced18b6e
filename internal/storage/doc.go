// Package storage persists the last-processed feed snapshot and the
// per-channel delivery records.
//
// Two interchangeable backends implement the Store contract (flat-file
// and relational), plus a dual-write composite used while migrating
// between them.
package storage
