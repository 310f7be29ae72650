// Package snapshot keeps recent L2 images of a book keyed by feed sequence.
//
// Manager is the in-memory bounded ring the replay engine fills as it
// applies events; Store is the durable side (see infra/store) used to
// rebuild a book on restart before the event log is replayed on top.
package snapshot
