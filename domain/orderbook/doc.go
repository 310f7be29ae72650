// Package orderbook implements a price-time priority limit order book for a
// single instrument.
//
// Prices are integer ticks and quantities integer lots. Each side keeps its
// price levels in a red-black tree behind a read-write lock; the top of
// book, volume totals, mutation sequence and checksum are atomics so hot
// readers never block on a writer. The checksum covers the top
// DefaultChecksumDepth levels per side and is the determinism oracle for
// replay: two books fed the same events report the same checksum after
// every event.
package orderbook
