package page

// MinVersionNoLegacyQuirk is the producer version (encoded as
// major*10000+minor*100+patch, e.g. 2.0.23 -> 20023) below which the
// legacy raw-page decode quirk applies.
const MinVersionNoLegacyQuirk = 20023

// IsLegacyRawPage reports whether a block record produced by a writer
// older than MinVersionNoLegacyQuirk, using zlib compression, and
// claiming compressedSize == Size should be treated as a raw
// (uncompressed) page rather than decompressed. Older writers stored a
// raw page with compressed_size == BLCKSZ without the modern
// compressed-marker distinction; the only reliable signal available at
// read time is that a genuine zlib stream starts with the zlib magic
// byte.
func IsLegacyRawPage(alg Algorithm, producerVersion int, compressedSize int, payload []byte) bool {
	if alg != Zlib {
		return false
	}
	if producerVersion >= MinVersionNoLegacyQuirk {
		return false
	}
	if compressedSize != Size {
		return false
	}
	if len(payload) == 0 {
		return true
	}
	return payload[0] != zlibMagic
}
