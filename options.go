package shardpager

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultQueryTimeout      = 60 * time.Second
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultMaxRecordsPerFile = 100000
)

// Options configures pagers and exporters.
type Options struct {
	// QueryTimeout bounds the total time a call may spend polling the cache.
	QueryTimeout time.Duration
	// PollInterval is the sleep between two reads of a not yet available result.
	PollInterval time.Duration

	// KeepCSVHeader repeats the field-name header line at the top of every CSV file.
	KeepCSVHeader bool
	// EscapeCSV quotes CSV values containing separators, quotes or newlines.
	// Off by default: values are written verbatim.
	EscapeCSV bool
	// MaxRecordsPerFile caps the records of one export file.
	MaxRecordsPerFile int64

	// Envelope wraps pages and JSON export files. Nil uses DefaultEnvelope.
	Envelope *Envelope
	// Sorter orders a page when the request asks for sorted output. Nil uses FieldSorter.
	Sorter Sorter

	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		QueryTimeout:      DefaultQueryTimeout,
		PollInterval:      DefaultPollInterval,
		MaxRecordsPerFile: DefaultMaxRecordsPerFile,
	}
}

func (o Options) withDefaults() Options {
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxRecordsPerFile <= 0 {
		o.MaxRecordsPerFile = DefaultMaxRecordsPerFile
	}
	if o.Envelope == nil {
		o.Envelope = DefaultEnvelope()
	}
	if o.Sorter == nil {
		o.Sorter = FieldSorter{}
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(nil)
	}
	return o
}

// Validate reports options that cannot work together.
func (o Options) Validate() error {
	if o.QueryTimeout < 0 || o.PollInterval < 0 {
		return fmt.Errorf("negative query timeout or poll interval")
	}
	if o.PollInterval > 0 && o.QueryTimeout > 0 && o.PollInterval > o.QueryTimeout {
		return fmt.Errorf("poll interval %v longer than query timeout %v", o.PollInterval, o.QueryTimeout)
	}
	if o.MaxRecordsPerFile < 0 {
		return fmt.Errorf("negative max records per file")
	}
	return nil
}

// SingleFileSize derives the per-file record cap of an export of
// realReturnNum records.
func (o Options) SingleFileSize(realReturnNum int64) int64 {
	limit := o.MaxRecordsPerFile
	if limit <= 0 {
		limit = DefaultMaxRecordsPerFile
	}
	if realReturnNum < 1 {
		return 1
	}
	if realReturnNum < limit {
		return realReturnNum
	}
	return limit
}
