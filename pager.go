package shardpager

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const modeDisplay = "display"

// PageRequest describes one page of a display-mode query.
type PageRequest struct {
	// CacheKey scopes the query's results in the PartitionCache.
	CacheKey string
	// Rows is the number of records requested for this page.
	Rows int
	// RealReturnNum is the query-wide cap on records across all pages.
	RealReturnNum int64
	// Sort, when non-empty, orders the assembled page. Ordering is page-local.
	Sort []SortField
}

func (r PageRequest) validate() error {
	if r.CacheKey == "" {
		return newQueryError(KindInvalidRequest, nil, "cache key is required")
	}
	if r.Rows <= 0 {
		return newQueryError(KindInvalidRequest, nil, "rows must be positive, got %d", r.Rows)
	}
	if r.RealReturnNum < 0 {
		return newQueryError(KindInvalidRequest, nil, "negative result cap %d", r.RealReturnNum)
	}
	return nil
}

// Page is one assembled page of results.
type Page struct {
	Docs []Record `json:"docs"`
	// Nums is the negotiated query-wide cap, not the size of this page.
	Nums           int64  `json:"nums"`
	NextCursorMark string `json:"nextCursorMark"`
	// HasMore reports whether the cursor can still produce records.
	HasMore bool `json:"-"`
}

// Pager assembles bounded pages from a PartitionCache, walking partitions in
// PartitionOrder and resuming from a Cursor.
type Pager struct {
	cache  PartitionCache
	order  PartitionOrder
	opts   Options
	logger logrus.FieldLogger
}

// NewPager creates a Pager reading from cache in the given partition order.
func NewPager(cache PartitionCache, order PartitionOrder, opts Options) *Pager {
	opts = opts.withDefaults()
	return &Pager{
		cache:  cache,
		order:  order,
		opts:   opts,
		logger: opts.Logger.WithField("component", "pager"),
	}
}

// Order returns the partition order the pager walks.
func (p *Pager) Order() PartitionOrder { return p.order }

// Page collects up to req.Rows records starting at cursor and advances cursor
// past them. It waits for partitions that have not produced results yet,
// except the terminal one, until the query timeout expires. On error the
// cursor may have moved and must not be handed back to the client.
func (p *Pager) Page(ctx context.Context, req PageRequest, cursor *Cursor) (page Page, err error) {
	start := time.Now()
	defer func() {
		p.opts.Metrics.observeRequest(modeDisplay, err)
		p.opts.Metrics.Duration.WithLabelValues(modeDisplay).Observe(time.Since(start).Seconds())
	}()

	if err := req.validate(); err != nil {
		return Page{}, err
	}
	if cursor == nil {
		return Page{}, newQueryError(KindInvalidRequest, nil, "cursor is required")
	}
	if !cursor.End && !p.order.Contains(cursor.Partition()) {
		return Page{}, newQueryError(KindInvalidRequest, nil, "cursor partition %q is not part of the query", cursor.Partition().Key())
	}

	logger := p.logger.WithField("cache_key", req.CacheKey)
	poll := newPoller(ctx, p.opts, logger, modeDisplay)
	defer poll.stop()

	docs := make([]Record, 0, min(req.Rows, 1024))
	full := func() bool {
		return len(docs) >= req.Rows || cursor.Returned >= req.RealReturnNum
	}
	for {
		if err := poll.check(); err != nil {
			return Page{}, err
		}
		if full() || cursor.End {
			break
		}

		part := cursor.Partition()
		records, ok, err := p.cache.Records(poll.Context(), req.CacheKey, part.Key())
		if err != nil {
			if cerr := poll.check(); cerr != nil {
				return Page{}, cerr
			}
			return Page{}, newQueryError(KindCacheUnavailable, err, "failed to read partition %s", part.Key())
		}
		if !ok {
			if p.order.IsTerminal(part) {
				// Nothing more will ever arrive.
				break
			}
			logger.WithField("partition", part.Key()).Debug("partition not ready, waiting")
			poll.wait()
			continue
		}

		idx := cursor.FetchIndex
		for ; idx < len(records) && !full(); idx++ {
			docs = append(docs, records[idx])
			cursor.Returned++
		}
		cursor.advance(p.order, idx, len(records))
	}

	if len(req.Sort) > 0 {
		docs = p.opts.Sorter.Sort(docs, req.Sort)
	}

	p.opts.Metrics.PageRows.Observe(float64(len(docs)))
	logger.WithFields(logrus.Fields{
		"rows":     len(docs),
		"returned": cursor.Returned,
		"cursor":   cursor.Partition().Key(),
		"offset":   cursor.FetchIndex,
		"end":      cursor.End,
		"elapsed":  poll.elapsed(),
	}).Debug("page assembled")

	return Page{
		Docs:           docs,
		Nums:           req.RealReturnNum,
		NextCursorMark: cursor.String(),
		HasMore:        !cursor.End && cursor.Returned < req.RealReturnNum,
	}, nil
}

// PageToken is Page for callers holding the continuation token instead of a
// Cursor. An empty token starts a new session.
func (p *Pager) PageToken(ctx context.Context, req PageRequest, token string) (Page, error) {
	cursor, err := CursorFromToken(token, p.order)
	if err != nil {
		return Page{}, newQueryError(KindInvalidRequest, err, "invalid cursor token")
	}
	return p.Page(ctx, req, cursor)
}

// Render wraps page into the response envelope.
func (p *Pager) Render(page Page) ([]byte, error) {
	return p.opts.Envelope.Render(page.Docs, page.Nums, page.NextCursorMark)
}
