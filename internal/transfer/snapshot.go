package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	SnapshotFormat  = "ambassador-ledger/snapshot"
	SnapshotVersion = 1

	// maxDecodedSnapshot bounds decompression of untrusted uploads.
	maxDecodedSnapshot = 2 << 30
)

// ErrUnreadableSnapshot is returned when a blob is not a snapshot this
// version can read.
var ErrUnreadableSnapshot = errors.New("unreadable snapshot")

// TableData is the content of one table in column order.
type TableData struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Snapshot is a full copy of the relational graph.
type Snapshot struct {
	ID         string      `json:"id"`
	Format     string      `json:"format"`
	Version    int         `json:"version"`
	CreatedAt  time.Time   `json:"created_at"`
	ExportedBy string      `json:"exported_by"`
	Tables     []TableData `json:"tables"`
}

// RowCount is the number of rows across all tables.
func (s *Snapshot) RowCount() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.Rows)
	}
	return n
}

// Encode serialises s as zstd-compressed JSON.
func Encode(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(s); err != nil {
		zw.Close()
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flushing zstd writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a blob produced by Encode. Numbers come back as int64 when
// integral and float64 otherwise, matching what the store returns.
func Decode(blob []byte) (*Snapshot, error) {
	zr, err := zstd.NewReader(bytes.NewReader(blob), zstd.WithDecoderMaxMemory(maxDecodedSnapshot))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableSnapshot, err)
	}
	defer zr.Close()

	dec := json.NewDecoder(zr)
	dec.UseNumber()

	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableSnapshot, err)
	}
	if s.Format != SnapshotFormat {
		return nil, fmt.Errorf("%w: format %q", ErrUnreadableSnapshot, s.Format)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnreadableSnapshot, s.Version)
	}

	for ti := range s.Tables {
		for ri, row := range s.Tables[ti].Rows {
			for ci, v := range row {
				n, ok := v.(json.Number)
				if !ok {
					continue
				}
				if i, err := n.Int64(); err == nil {
					s.Tables[ti].Rows[ri][ci] = i
				} else if f, err := n.Float64(); err == nil {
					s.Tables[ti].Rows[ri][ci] = f
				} else {
					return nil, fmt.Errorf("%w: table %s row %d: bad number %s", ErrUnreadableSnapshot, s.Tables[ti].Name, ri, n)
				}
			}
		}
	}

	return &s, nil
}
