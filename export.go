package shardpager

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const modeExport = "export"

// ExportRequest describes a full dump of one query's results.
type ExportRequest struct {
	CacheKey string
	// RealReturnNum is the number of records to export; extra records are ignored.
	RealReturnNum int64
	Format        Format
	// Dir receives the chunk files; it is created if missing.
	Dir string
	// SingleFileSize caps the records per file. Zero derives it from
	// RealReturnNum with Options.SingleFileSize.
	SingleFileSize int64
}

// Exporter dumps completed query results into chunked files.
type Exporter struct {
	cache  PartitionCache
	opts   Options
	logger logrus.FieldLogger
}

// NewExporter creates an Exporter reading from cache.
func NewExporter(cache PartitionCache, opts Options) *Exporter {
	opts = opts.withDefaults()
	return &Exporter{
		cache:  cache,
		opts:   opts,
		logger: opts.Logger.WithField("component", "exporter"),
	}
}

// Export waits until every partition worker of req.CacheKey has finished,
// then writes up to req.RealReturnNum records into files under req.Dir, in
// the cache's storage order. It returns req.Dir. On failure, files written
// so far are left in place.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (dir string, err error) {
	start := time.Now()
	defer func() {
		e.opts.Metrics.observeRequest(modeExport, err)
		e.opts.Metrics.Duration.WithLabelValues(modeExport).Observe(time.Since(start).Seconds())
	}()

	if !req.Format.Valid() {
		return "", newQueryError(KindUnsupportedFormat, nil, "unknown output format %q", string(req.Format))
	}
	if req.CacheKey == "" || req.Dir == "" {
		return "", newQueryError(KindInvalidRequest, nil, "cache key and destination directory are required")
	}
	if req.RealReturnNum < 0 || req.SingleFileSize < 0 {
		return "", newQueryError(KindInvalidRequest, nil, "negative export size")
	}

	logger := e.logger.WithFields(logrus.Fields{
		"cache_key": req.CacheKey,
		"format":    req.Format,
	})
	poll := newPoller(ctx, e.opts, logger, modeExport)
	defer poll.stop()

	if err := e.waitComplete(poll, req.CacheKey); err != nil {
		return "", err
	}

	partitions, ok, err := e.cache.Partitions(poll.Context(), req.CacheKey)
	if err != nil {
		return "", newQueryError(KindCacheUnavailable, err, "failed to read results")
	}
	if !ok {
		qerr := newQueryError(KindInternalState, nil, "failed to query for null results")
		logger.Error(qerr.Message)
		return "", qerr
	}

	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return "", newQueryError(KindExportIO, err, "failed to download data")
	}

	fileSize := req.SingleFileSize
	if fileSize == 0 {
		fileSize = e.opts.SingleFileSize(req.RealReturnNum)
	}
	w := &ChunkedWriter{
		Dir:           req.Dir,
		Format:        req.Format,
		FileSize:      fileSize,
		Limit:         req.RealReturnNum,
		Nums:          req.RealReturnNum,
		Envelope:      e.opts.Envelope,
		KeepCSVHeader: e.opts.KeepCSVHeader,
		EscapeCSV:     e.opts.EscapeCSV,
	}
	var res ChunkResult
	if req.RealReturnNum > 0 {
		res, err = w.Write(ctx, partitions)
	}
	format := string(req.Format)
	e.opts.Metrics.ExportFiles.WithLabelValues(format).Add(float64(len(res.Files)))
	e.opts.Metrics.ExportRecords.WithLabelValues(format).Add(float64(res.Records))
	if err != nil {
		logger.WithError(err).WithField("files", len(res.Files)).Error("export failed")
		return "", newQueryError(KindExportIO, err, "failed to download data")
	}

	logger.WithFields(logrus.Fields{
		"files":   len(res.Files),
		"records": res.Records,
		"dir":     req.Dir,
		"elapsed": time.Since(start),
	}).Info("export completed")
	return req.Dir, nil
}

// waitComplete polls the progress counter until every expected record has
// been fetched.
func (e *Exporter) waitComplete(poll *poller, cacheKey string) error {
	for {
		if err := poll.check(); err != nil {
			return err
		}
		progress, ok, err := e.cache.Progress(poll.Context(), cacheKey)
		if err != nil {
			if cerr := poll.check(); cerr != nil {
				return cerr
			}
			return newQueryError(KindCacheUnavailable, err, "failed to read progress")
		}
		if !ok {
			return newQueryError(KindNoData, nil, "no data to be downloaded")
		}
		if progress.Done() {
			return nil
		}
		poll.wait()
	}
}
