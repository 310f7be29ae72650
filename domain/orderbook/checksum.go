package orderbook

import (
	"hash/crc32"
	"strconv"
)

// DefaultChecksumDepth is the number of levels per side covered by the
// book checksum.
const DefaultChecksumDepth = 25

// ComputeChecksum hashes the top depth (price, qty) pairs of each side.
// Levels must already be in priority order (best first). The canonical
// form is "B|p:q|p:q...|A|p:q...", so an empty book still hashes to a
// fixed value and the two sides can never alias each other.
func ComputeChecksum(bids, asks []Level, depth int) uint32 {
	buf := make([]byte, 0, 64+2*depth*24)
	buf = appendSide(buf, 'B', bids, depth)
	buf = appendSide(buf, 'A', asks, depth)
	return crc32.ChecksumIEEE(buf)
}

func appendSide(buf []byte, tag byte, levels []Level, depth int) []byte {
	buf = append(buf, tag)
	for i, l := range levels {
		if i == depth {
			break
		}
		buf = append(buf, '|')
		buf = strconv.AppendInt(buf, l.Price, 10)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, l.Qty, 10)
	}
	return append(buf, '|')
}
