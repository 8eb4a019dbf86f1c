package shardpager

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ChunkedWriter serializes a record sequence into files of at most FileSize
// records each.
type ChunkedWriter struct {
	// Dir receives the chunk files. It must exist.
	Dir    string
	Format Format
	// FileSize is the record cap of a single file.
	FileSize int64
	// Limit stops the writer after that many records; 0 means no limit.
	Limit int64
	// Nums is the overall requested total written into JSON and XML framing.
	Nums int64

	Envelope      *Envelope
	KeepCSVHeader bool
	EscapeCSV     bool
}

// ChunkResult describes the files written by one ChunkedWriter.Write call.
type ChunkResult struct {
	Files   []string
	Records int64
}

// chunkFile is one open output file.
type chunkFile struct {
	path string
	f    *os.File
	bw   *bufio.Writer
}

func createChunkFile(path string) (*chunkFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &chunkFile{path: path, f: f, bw: bufio.NewWriter(f)}, nil
}

// finish writes the closing framing and releases the file.
func (c *chunkFile) finish(enc chunkEncoder) error {
	var result *multierror.Error
	if err := enc.end(c.bw); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.bw.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.f.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// abort releases the file without completing it.
func (c *chunkFile) abort() {
	_ = c.f.Close()
}

// fileName returns a name unique to this call that sorts in write order.
func (w *ChunkedWriter) fileName(stamp int64, callID string, seq int) string {
	return filepath.Join(w.Dir, fmt.Sprintf("data-%d-%05d-%s.%s", stamp, seq, callID, w.Format.Ext()))
}

// Write streams records into chunk files until the sequence ends or Limit
// records were written. Files already completed stay on disk if a later
// one fails.
func (w *ChunkedWriter) Write(ctx context.Context, records iter.Seq2[string, []Record]) (ChunkResult, error) {
	var res ChunkResult
	if w.FileSize <= 0 {
		return res, errors.Errorf("file size must be positive, got %d", w.FileSize)
	}
	envelope := w.Envelope
	if envelope == nil {
		envelope = DefaultEnvelope()
	}
	enc, err := newChunkEncoder(w.Format, envelope, w.Nums, w.KeepCSVHeader, w.EscapeCSV)
	if err != nil {
		return res, err
	}

	stamp := time.Now().UnixNano()
	callID := uuid.New().String()[:8]

	var (
		cur     *chunkFile
		inChunk int64
	)
	defer func() {
		if cur != nil {
			cur.abort()
		}
	}()

batches:
	for partitionKey, batch := range records {
		if err := ctx.Err(); err != nil {
			return res, errors.Wrapf(err, "export interrupted before partition %q", partitionKey)
		}
		for _, rec := range batch {
			if w.Limit > 0 && res.Records >= w.Limit {
				break batches
			}
			if cur == nil {
				path := w.fileName(stamp, callID, len(res.Files))
				if cur, err = createChunkFile(path); err != nil {
					return res, errors.Wrapf(err, "create %s", path)
				}
				res.Files = append(res.Files, path)
				if err := enc.begin(cur.bw, rec); err != nil {
					return res, errors.Wrapf(err, "write %s", cur.path)
				}
			}
			if err := enc.encode(cur.bw, rec); err != nil {
				return res, errors.Wrapf(err, "write %s", cur.path)
			}
			res.Records++
			inChunk++
			if inChunk == w.FileSize {
				done := cur
				cur, inChunk = nil, 0
				if err := done.finish(enc); err != nil {
					return res, errors.Wrapf(err, "close %s", done.path)
				}
			}
		}
	}

	if cur != nil {
		done := cur
		cur = nil
		if err := done.finish(enc); err != nil {
			return res, errors.Wrapf(err, "close %s", done.path)
		}
	}
	return res, nil
}
