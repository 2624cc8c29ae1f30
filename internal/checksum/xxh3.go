// Package checksum provides the hash function used by the Bloom filter
// builder/reader.
//
// Reference: RocksDB v10.7.5 uses XXH3_64bits() for its FastLocalBloom
// filter (util/bloom_impl.h); we delegate to the zeebo/xxh3 package rather
// than reimplementing the algorithm.
package checksum

import "github.com/zeebo/xxh3"

// XXH3_64bits computes the 64-bit XXH3 hash of data.
func XXH3_64bits(data []byte) uint64 {
	return xxh3.Hash(data)
}
