// Package service sequences feed events into order books. A ReplayEngine
// owns one book and its ordering state; BookService keeps one engine per
// symbol, journals every event to the entry WAL, and drives recovery and
// periodic snapshots.
//
// It is decoupled from transports like Kafka, websockets and gRPC.
package service
