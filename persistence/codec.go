package persistence

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog/log"

	"github.com/patrikhermansson/simindex/core"
)

// Codec selects how snapshot payloads are compressed.
type Codec uint8

const (
	// CodecNone stores the payload as is.
	CodecNone Codec = iota
	// CodecZstd compresses with zstd (better ratio).
	CodecZstd
	// CodecLZ4 compresses with the lz4 frame format (faster).
	CodecLZ4
)

var codecNames = map[Codec]string{
	CodecNone: "none",
	CodecZstd: "zstd",
	CodecLZ4:  "lz4",
}

func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// ParseCodec maps a codec name to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "none", "raw":
		return CodecNone, nil
	case "zstd", "":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return CodecNone, fmt.Errorf("%w: unknown codec %q", core.ErrInvalidArgument, name)
}

// DefaultCodec returns the codec named by HANN_COMPRESSION, zstd when unset or invalid.
func DefaultCodec() Codec {
	value := os.Getenv("HANN_COMPRESSION")
	c, err := ParseCodec(value)
	if err != nil {
		log.Warn().Msgf("Ignoring HANN_COMPRESSION value: %s", value)
		return CodecZstd
	}
	return c
}

func compress(c Codec, data []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CodecLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported codec %s", c)
}

func decompress(c Codec, data []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case CodecLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	}
	return nil, fmt.Errorf("unsupported codec %s", c)
}
