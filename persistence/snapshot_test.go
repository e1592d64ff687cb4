package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/patrikhermansson/simindex/core"
)

type sample struct {
	Dim  int
	Data []float32
	Tags map[string]int
}

func newSample() sample {
	data := make([]float32, 512)
	for i := range data {
		data[i] = float32(i % 7)
	}
	return sample{Dim: 8, Data: data, Tags: map[string]int{"a": 1}}
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		codec := codec
		t.Run(codec.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snap.sidx")
			in := newSample()
			if err := WriteFile(path, core.KindFlat, in, codec); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			var out sample
			if err := ReadFile(path, core.KindFlat, &out); err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
			if out.Dim != in.Dim || len(out.Data) != len(in.Data) || out.Tags["a"] != 1 {
				t.Fatalf("round trip mismatch: %+v", out)
			}
			for i := range in.Data {
				if in.Data[i] != out.Data[i] {
					t.Fatalf("data[%d] = %v; want %v", i, out.Data[i], in.Data[i])
				}
			}
			kind, err := PeekKind(path)
			if err != nil {
				t.Fatalf("PeekKind failed: %v", err)
			}
			if kind != core.KindFlat {
				t.Errorf("PeekKind = %v; want flat", kind)
			}
		})
	}
}

func TestWriteFileOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.sidx")
	if err := os.WriteFile(path, []byte("old contents"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(path, core.KindKDTree, newSample(), CodecZstd); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	var out sample
	if err := ReadFile(path, core.KindKDTree, &out); err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the snapshot in the directory, found %d entries", len(entries))
	}
}

func TestReadFileKindMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.sidx")
	if err := WriteFile(path, core.KindFlat, newSample(), CodecNone); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	var out sample
	err := ReadFile(path, core.KindPQIVF, &out)
	if !errors.Is(err, core.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestReadFileDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.sidx")
	if err := WriteFile(path, core.KindFlat, newSample(), CodecNone); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	var out sample
	if err := ReadFile(path, core.KindFlat, &out); !errors.Is(err, core.ErrPersistence) {
		t.Fatalf("expected ErrPersistence for corrupted payload, got %v", err)
	}

	if err := os.WriteFile(path, data[:len(data)-10], 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReadFile(path, core.KindFlat, &out); !errors.Is(err, core.ErrPersistence) {
		t.Fatalf("expected ErrPersistence for truncated payload, got %v", err)
	}
}

func TestReadFileRejectsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	var out sample

	if err := ReadFile(filepath.Join(dir, "missing"), core.KindFlat, &out); !errors.Is(err, core.ErrPersistence) {
		t.Errorf("expected ErrPersistence for missing file, got %v", err)
	}

	short := filepath.Join(dir, "short")
	if err := os.WriteFile(short, []byte("SIDX"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReadFile(short, core.KindFlat, &out); !errors.Is(err, core.ErrPersistence) {
		t.Errorf("expected ErrPersistence for short file, got %v", err)
	}
	if _, err := PeekKind(short); !errors.Is(err, core.ErrPersistence) {
		t.Errorf("expected ErrPersistence from PeekKind on short file, got %v", err)
	}

	foreign := filepath.Join(dir, "foreign")
	if err := os.WriteFile(foreign, make([]byte, 64), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReadFile(foreign, core.KindFlat, &out); !errors.Is(err, core.ErrPersistence) {
		t.Errorf("expected ErrPersistence for foreign file, got %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	tests := map[string]Codec{"none": CodecNone, "zstd": CodecZstd, "LZ4": CodecLZ4, "": CodecZstd}
	for name, want := range tests {
		got, err := ParseCodec(name)
		if err != nil || got != want {
			t.Errorf("ParseCodec(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseCodec("gzip"); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for unknown codec, got %v", err)
	}
}

func TestDefaultCodec(t *testing.T) {
	t.Setenv("HANN_COMPRESSION", "lz4")
	if got := DefaultCodec(); got != CodecLZ4 {
		t.Errorf("DefaultCodec() = %v; want lz4", got)
	}
	t.Setenv("HANN_COMPRESSION", "bogus")
	if got := DefaultCodec(); got != CodecZstd {
		t.Errorf("DefaultCodec() = %v; want zstd fallback", got)
	}
}
