package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/patrikhermansson/simindex/core"
)

// Version is the snapshot format version written by this release.
const Version uint16 = 1

// magic identifies snapshot files.
var magic = [4]byte{'S', 'I', 'D', 'X'}

// header is the fixed-size prefix of every snapshot file.
type header struct {
	Magic      [4]byte
	Version    uint16
	Kind       uint8
	Codec      uint8
	PayloadLen uint64
	Checksum   uint32
}

// headerSize is the encoded size of header.
var headerSize = binary.Size(header{})

// WriteFile gob-encodes v and writes it as a snapshot of the given backend kind.
// The file is written next to path and renamed over it, so an existing file is
// either fully replaced or left untouched.
func WriteFile(path string, kind core.Kind, v any, codec Codec) error {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(v); err != nil {
		return fmt.Errorf("%w: encode %s snapshot: %w", core.ErrPersistence, kind, err)
	}
	payload, err := compress(codec, raw.Bytes())
	if err != nil {
		return fmt.Errorf("%w: compress %s snapshot: %w", core.ErrPersistence, kind, err)
	}
	h := header{
		Magic:      magic,
		Version:    Version,
		Kind:       uint8(kind),
		Codec:      uint8(codec),
		PayloadLen: uint64(len(payload)),
		Checksum:   crc32.ChecksumIEEE(payload),
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", core.ErrPersistence, path, err)
	}
	if err := binary.Write(tmp, binary.LittleEndian, h); err != nil {
		return fail(err)
	}
	if _, err := tmp.Write(payload); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", core.ErrPersistence, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", core.ErrPersistence, path, err)
	}
	log.Debug().
		Str("kind", kind.String()).
		Str("codec", codec.String()).
		Int("raw_bytes", raw.Len()).
		Int("stored_bytes", len(payload)).
		Msgf("Saved snapshot to %s", path)
	return nil
}

// ReadFile reads a snapshot of the given backend kind from path and gob-decodes its payload into v.
func ReadFile(path string, kind core.Kind, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	h, err := parseHeader(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrPersistence, path, err)
	}
	if core.Kind(h.Kind) != kind {
		return fmt.Errorf("%w: %s holds a %s snapshot, expected %s",
			core.ErrPersistence, path, core.Kind(h.Kind), kind)
	}
	payload := data[headerSize:]
	if uint64(len(payload)) != h.PayloadLen {
		return fmt.Errorf("%w: %s: payload is %d bytes, header says %d",
			core.ErrPersistence, path, len(payload), h.PayloadLen)
	}
	if sum := crc32.ChecksumIEEE(payload); sum != h.Checksum {
		return fmt.Errorf("%w: %s: checksum mismatch (got %08x, want %08x)",
			core.ErrPersistence, path, sum, h.Checksum)
	}
	raw, err := decompress(Codec(h.Codec), payload)
	if err != nil {
		return fmt.Errorf("%w: %s: decompress: %w", core.ErrPersistence, path, err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(v); err != nil {
		return fmt.Errorf("%w: %s: decode: %w", core.ErrPersistence, path, err)
	}
	log.Debug().Str("kind", kind.String()).Msgf("Loaded snapshot from %s", path)
	return nil
}

// PeekKind returns the backend kind recorded in the header of the snapshot at path.
func PeekKind(path string) (core.Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.KindUnknown, fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	defer f.Close()
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return core.KindUnknown, fmt.Errorf("%w: %s: short header: %w", core.ErrPersistence, path, err)
	}
	h, err := parseHeader(buf)
	if err != nil {
		return core.KindUnknown, fmt.Errorf("%w: %s: %w", core.ErrPersistence, path, err)
	}
	return core.Kind(h.Kind), nil
}

func parseHeader(data []byte) (header, error) {
	var h header
	if len(data) < headerSize {
		return h, fmt.Errorf("file too small for a snapshot header (%d bytes)", len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &h); err != nil {
		return h, err
	}
	if h.Magic != magic {
		return h, errors.New("not a snapshot file")
	}
	if h.Version != Version {
		return h, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if _, ok := codecNames[Codec(h.Codec)]; !ok {
		return h, fmt.Errorf("unknown codec %d", h.Codec)
	}
	return h, nil
}
