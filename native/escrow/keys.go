package escrow

import "encoding/binary"

// Persisted layout: one config record under a fixed key, escrow records under
// a composite (collection, token_id) key, and three derived index structures
// whose entries map back to the primary key. Intermediate key segments are
// length-prefixed so compound keys stay unambiguous; the trailing token id is
// stored raw so records within a collection sort in plain token-id order.
var (
	configKey             = []byte("escrow/config")
	escrowKeyPrefix       = []byte("escrow/records/")
	collectionIndexPrefix = []byte("escrow/index/collection/")
	sourceIndexPrefix     = []byte("escrow/index/source/")
	recipientIndexPrefix  = []byte("escrow/index/recipient/")
)

// encodeSegment prepends a 2-byte big-endian length to the segment bytes.
// Segments are validated against maxIdentifierLen before keys are built, so
// the prefix never wraps.
func encodeSegment(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}

// escrowKey is the primary key for the (collection, token_id) pair.
func escrowKey(collection, tokenID string) []byte {
	key := append([]byte(nil), escrowKeyPrefix...)
	key = append(key, encodeSegment(collection)...)
	key = append(key, tokenID...)
	return key
}

// indexKey builds an entry key for one of the three secondary indices. The
// indexed dimension comes first, followed by the primary key components.
func indexKey(prefix []byte, dimension, collection, tokenID string) []byte {
	key := indexPrefix(prefix, dimension)
	key = append(key, encodeSegment(collection)...)
	key = append(key, tokenID...)
	return key
}

// indexPrefix covers every index entry for a single dimension value.
func indexPrefix(prefix []byte, dimension string) []byte {
	key := append([]byte(nil), prefix...)
	key = append(key, encodeSegment(dimension)...)
	return key
}

// exclusiveStart returns the smallest key strictly greater than key, turning
// an exclusive start-after cursor into an inclusive range start.
func exclusiveStart(key []byte) []byte {
	return append(append([]byte(nil), key...), 0x00)
}
