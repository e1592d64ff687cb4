// Package persistence writes and reads index snapshots.
//
// A snapshot is a fixed little-endian header followed by a payload:
//
//	magic "SIDX" | version u16 | kind u8 | codec u8 | payload length u64 | crc32 u32 | payload
//
// The payload is the gob encoding of a backend's snapshot struct, compressed
// with the codec named in the header. The CRC32 (IEEE) covers the stored,
// possibly compressed, payload bytes.
package persistence
