package orderbook

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Fingerprint hashes the full L3 state: every level on both sides and every
// order in time priority. Unlike Checksum it covers all depth and order
// identity, so two books with equal fingerprints hold the same queues.
func (b *OrderBook) Fingerprint() [32]byte {
	buf := make([]byte, 0, 4096)

	b.bids.mu.RLock()
	buf = appendTree(buf, b.bids)
	b.bids.mu.RUnlock()

	b.asks.mu.RLock()
	buf = appendTree(buf, b.asks)
	b.asks.mu.RUnlock()

	return blake3.Sum256(buf)
}

func appendTree(buf []byte, s *bookSide) []byte {
	buf = append(buf, byte(s.side))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.tree.Size()))
	s.tree.ForEachAscending(func(l *PriceLevel) bool {
		buf = binary.BigEndian.AppendUint64(buf, uint64(l.Price))
		buf = binary.BigEndian.AppendUint64(buf, uint64(l.Quantity()))
		buf = binary.BigEndian.AppendUint64(buf, uint64(l.OrderCount()))
		for o := l.Head(); o != nil; o = o.Next() {
			var flags byte
			if o.Synthetic {
				flags |= 1
			}
			if o.Iceberg {
				flags |= 2
			}
			buf = append(buf, flags)
			buf = binary.BigEndian.AppendUint64(buf, o.ID)
			buf = binary.BigEndian.AppendUint64(buf, uint64(o.Qty))
			buf = binary.BigEndian.AppendUint64(buf, uint64(o.VisibleQty))
		}
		return true
	})
	return buf
}
