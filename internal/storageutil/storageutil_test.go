package storageutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/danr/processor/internal/testutil"
)

type Profile struct {
	Samples []int `json:"samples"`
	Frames  []int `json:"frames"`
}

func newBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	b := memblob.OpenBucket(nil)
	t.Cleanup(func() {
		_ = b.Close()
	})
	return b
}

func TestCompressedWrite(t *testing.T) {
	ctx := context.Background()
	b := newBucket(t)
	originalData := Profile{Samples: []int{1, 2, 3, 4}, Frames: []int{1, 2, 3, 4}}

	if err := CompressedWrite(ctx, b, "profile", originalData); err != nil {
		t.Fatalf("we should be able to write: %v", err)
	}

	raw, err := b.ReadAll(ctx, "profile")
	if err != nil {
		t.Fatalf("we should be able to read the object: %v", err)
	}
	if !IsGzip(raw) {
		t.Fatal("object should be gzip compressed")
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	uncompressedData, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("we should be able to uncompress the data: %v", err)
	}
	if want := `{"samples":[1,2,3,4],"frames":[1,2,3,4]}`; string(bytes.TrimSpace(uncompressedData)) != want {
		t.Fatalf("data should be identical: %s", uncompressedData)
	}

	var p Profile
	if err := UnmarshalCompressed(ctx, b, "profile", &p); err != nil {
		t.Fatalf("we should be able to read the object back: %v", err)
	}
	if diff := testutil.Diff(p, originalData); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestUnmarshalCompressedFormats(t *testing.T) {
	originalData := []byte(`{"samples":[1,2,3,4],"frames":[1,2,3,4]}`)

	var lz4Data bytes.Buffer
	lw := lz4.NewWriter(&lz4Data)
	_, _ = lw.Write(originalData)
	if err := lw.Close(); err != nil {
		t.Fatalf("we should be able to close the writer: %v", err)
	}

	var gzipData bytes.Buffer
	gw := gzip.NewWriter(&gzipData)
	_, _ = gw.Write(originalData)
	if err := gw.Close(); err != nil {
		t.Fatalf("we should be able to close the writer: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "gzip", data: gzipData.Bytes()},
		{name: "lz4", data: lz4Data.Bytes()},
		{name: "uncompressed", data: originalData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b := newBucket(t)
			if err := b.WriteAll(ctx, "profile", tt.data, nil); err != nil {
				t.Fatal(err)
			}
			var p Profile
			if err := UnmarshalCompressed(ctx, b, "profile", &p); err != nil {
				t.Fatalf("we should be able to read the object: %v", err)
			}
			want := Profile{Samples: []int{1, 2, 3, 4}, Frames: []int{1, 2, 3, 4}}
			if diff := testutil.Diff(p, want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestObjectNotFound(t *testing.T) {
	ctx := context.Background()
	b := newBucket(t)

	var p Profile
	if err := UnmarshalCompressed(ctx, b, "missing", &p); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := ReadRaw(ctx, b, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestRawRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newBucket(t)
	data := []byte{0x0a, 0x1f, 0x8b, 0x00, 0xff}

	if err := WriteRaw(ctx, b, "trace", data); err != nil {
		t.Fatal(err)
	}
	got, err := ReadRaw(ctx, b, "trace")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("expected %v, got %v", data, got)
	}
}

func TestNewDecompressingReaderEmpty(t *testing.T) {
	r, err := NewDecompressingReader(bytes.NewReader(nil))
	if err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(r)
	if err != nil || len(b) != 0 {
		t.Fatalf("expected an empty stream, got %v %v", b, err)
	}
}
