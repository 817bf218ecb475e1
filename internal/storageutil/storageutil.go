package storageutil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrObjectNotFound indicates an object was not found.
var ErrObjectNotFound = errors.New("object not found")

// Timeout bounds every single read or write against the bucket.
var Timeout = 30 * time.Second

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	gzipMagic = []byte{0x1f, 0x8b}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// IsGzip reports whether b starts with the gzip magic bytes.
func IsGzip(b []byte) bool {
	return bytes.HasPrefix(b, gzipMagic)
}

// IsLZ4 reports whether b starts with the lz4 frame magic number.
func IsLZ4(b []byte) bool {
	return bytes.HasPrefix(b, lz4Magic)
}

// NewDecompressingReader sniffs the first bytes of r and returns a reader
// producing the decompressed stream. Data that is neither gzip nor lz4 framed
// is returned as is.
func NewDecompressingReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(lz4Magic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	switch {
	case IsGzip(head):
		return gzip.NewReader(br)
	case IsLZ4(head):
		return lz4.NewReader(br), nil
	}
	return br, nil
}

func translate(err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return ErrObjectNotFound
	}
	return err
}

// CompressedWrite encodes d as JSON, compresses it with gzip and writes it to
// the bucket.
func CompressedWrite(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	ow, err := b.NewWriter(ctx, objectName, &blob.WriterOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
	})
	if err != nil {
		return err
	}
	zw, err := gzip.NewWriterLevel(ow, gzip.BestCompression)
	if err != nil {
		cancel()
		_ = ow.Close()
		return err
	}
	err = json.NewEncoder(zw).Encode(d)
	if err != nil {
		// cancelling the context before closing aborts the upload
		cancel()
		_ = ow.Close()
		return err
	}
	err = zw.Close()
	if err != nil {
		cancel()
		_ = ow.Close()
		return err
	}
	return ow.Close()
}

// UnmarshalCompressed reads a JSON object written by CompressedWrite and
// unmarshals it into d. lz4 framed and uncompressed objects are read as well.
func UnmarshalCompressed(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	or, err := b.NewReader(ctx, objectName, nil)
	if err != nil {
		return translate(err)
	}
	defer or.Close()
	zr, err := NewDecompressingReader(or)
	if err != nil {
		return err
	}
	return json.NewDecoder(zr).Decode(d)
}

// WriteRaw stores data verbatim.
func WriteRaw(ctx context.Context, b *blob.Bucket, objectName string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	return b.WriteAll(ctx, objectName, data, &blob.WriterOptions{
		ContentType: "application/octet-stream",
	})
}

// ReadRaw returns the bytes stored under objectName.
func ReadRaw(ctx context.Context, b *blob.Bucket, objectName string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	data, err := b.ReadAll(ctx, objectName)
	if err != nil {
		return nil, translate(err)
	}
	return data, nil
}
