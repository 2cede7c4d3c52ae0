// SPDX-License-Identifier: MIT
/*
Package store persists the exemplar set as an append-only record log.

Record layout (BigEndian):

	+-------------------+----------------+--------------+------------------------+
	| Field             | Data Type      | Size (Bytes) | Description            |
	|-------------------|----------------|--------------|------------------------|
	| Magic             | uint32         | 4            | 0x454C4F47 ("ELOG")    |
	| Payload Length    | uint32         | 4            | Bytes of payload (N)   |
	| Payload CRC       | uint32         | 4            | IEEE CRC32 of payload  |
	| Payload           | msgpack        | N            | {label, features}      |
	+-------------------+----------------+--------------+------------------------+

Records are only ever appended, never rewritten, and every append is fsynced
before it returns. A power loss mid-append can therefore tear at most the
final record: the torn tail fails its magic, length or CRC check on the next
load and is discarded without touching anything written before it.
*/
package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"elephantlog/internal/dsp"
	"elephantlog/internal/knn"
	applog "elephantlog/internal/log"
)

const (
	recordMagic      = uint32(0x454C4F47)
	headerSize       = 12
	maxPayloadLength = 1 << 16 // sanity bound; a 4-float record is ~60 bytes
)

// payload is the msgpack-encoded body of one record.
type payload struct {
	Label    string    `msgpack:"label"`
	Features []float64 `msgpack:"features"`
}

// Log is a file-backed append-only exemplar store.
type Log struct {
	path string
	dim  int
	file *os.File // lazily opened append handle
}

// Open prepares a log at path for exemplars of the given dimensionality.
// The file is not created until the first Append, so a read-only deployment
// never touches flash.
func Open(path string, dim int) (*Log, error) {
	if path == "" {
		return nil, errors.New("store: path must not be empty")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("store: dimensionality must be positive, got %d", dim)
	}
	return &Log{path: path, dim: dim}, nil
}

// ReadAll scans the log from the start and returns every valid exemplar in
// insertion order, plus the count of records skipped for having the wrong
// dimensionality or an undecodable payload. A missing file returns zero
// exemplars and no error. A torn tail (short header, bad magic, short or
// corrupt payload) ends the scan without failing the records before it.
func (l *Log) ReadAll() ([]knn.Exemplar, int, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("store: opening %s: %w", l.path, err)
	}
	defer f.Close()

	var (
		exemplars []knn.Exemplar
		skipped   int
		header    [headerSize]byte
		offset    int64
	)
	for {
		n, err := io.ReadFull(f, header[:])
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			applog.Warnf("store: %s: %d-byte partial header at offset %d, discarding tail", l.path, n, offset)
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("store: reading %s: %w", l.path, err)
		}

		magic := binary.BigEndian.Uint32(header[0:4])
		length := binary.BigEndian.Uint32(header[4:8])
		sum := binary.BigEndian.Uint32(header[8:12])
		if magic != recordMagic || length == 0 || length > maxPayloadLength {
			applog.Warnf("store: %s: invalid record header at offset %d, discarding tail", l.path, offset)
			break
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(f, body); err != nil {
			applog.Warnf("store: %s: truncated record at offset %d, discarding tail", l.path, offset)
			break
		}
		offset += headerSize + int64(length)

		if crc32.ChecksumIEEE(body) != sum {
			applog.Warnf("store: %s: checksum mismatch at offset %d, discarding tail", l.path, offset-int64(length)-headerSize)
			break
		}

		var rec payload
		if err := msgpack.Unmarshal(body, &rec); err != nil {
			// Framing and checksum were intact, so this is a stale or
			// foreign record, not a torn write. Keep scanning.
			skipped++
			applog.Warnf("store: %s: undecodable record payload, skipping: %v", l.path, err)
			continue
		}
		if len(rec.Features) != l.dim {
			skipped++
			applog.Warnf("store: %s: record %q has %d dimensions, want %d, skipping",
				l.path, rec.Label, len(rec.Features), l.dim)
			continue
		}

		exemplars = append(exemplars, knn.Exemplar{
			Features: dsp.FeatureVector(rec.Features),
			Label:    rec.Label,
		})
	}

	return exemplars, skipped, nil
}

// Append durably writes one exemplar. The record is written in a single
// write call and fsynced before Append returns; the in-memory model may only
// be updated after this succeeds.
func (l *Log) Append(ex knn.Exemplar) error {
	if len(ex.Features) != l.dim {
		return fmt.Errorf("store: exemplar has %d dimensions, want %d: %w", len(ex.Features), l.dim, knn.ErrDimensionMismatch)
	}

	body, err := msgpack.Marshal(payload{Label: ex.Label, Features: ex.Features})
	if err != nil {
		return fmt.Errorf("store: encoding exemplar: %w", err)
	}
	if len(body) > maxPayloadLength {
		return fmt.Errorf("store: encoded record is %d bytes, limit %d", len(body), maxPayloadLength)
	}

	if l.file == nil {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("store: opening %s for append: %w", l.path, err)
		}
		l.file = f
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(body))
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[0:4], recordMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(body)))
	binary.BigEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(body))
	buf.Write(header[:])
	buf.Write(body)

	if _, err := l.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("store: appending to %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("store: syncing %s: %w", l.path, err)
	}
	return nil
}

// Close releases the append handle, if one was opened.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the log's file path.
func (l *Log) Path() string { return l.path }

// Compile-time check that the log satisfies the classifier's store boundary.
var _ knn.Store = (*Log)(nil)
