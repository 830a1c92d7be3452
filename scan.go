package formstore

import (
	"bytes"
	"context"
	"log/slog"
)

// rawRange selects the keys of a bucket that start with Prefix and are not
// below Lower. Both are optional.
type rawRange struct {
	Prefix []byte
	Lower  []byte
}

// start and next trace each cursor move when logger is not nil.
func (r *rawRange) start(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	lower := r.Lower
	if lower == nil {
		lower = r.Prefix
	} else if r.Prefix != nil && !bytes.HasPrefix(lower, r.Prefix) {
		panic("lower bound does not match prefix")
	}
	if lower != nil {
		k, v = bcur.Seek(lower)
		if logger != nil {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK to lower", hexAttr("lower", lower), hexAttr("key", k))
		}
	} else {
		k, v = bcur.First()
		if logger != nil {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "FIRST", hexAttr("key", k))
		}
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

func (r *rawRange) next(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	k, v := bcur.Next()
	if logger != nil {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "NEXT", hexAttr("key", k))
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

func (r *rawRange) match(k []byte) bool {
	return r.Prefix == nil || bytes.HasPrefix(k, r.Prefix)
}

func (r *rawRange) newCursor(bcur storageCursor, logger *slog.Logger) *rawRangeCursor {
	return &rawRangeCursor{rang: *r, bcur: bcur, logger: logger}
}

type rawRangeCursor struct {
	rang   rawRange
	bcur   storageCursor
	logger *slog.Logger
	k, v   []byte
	init   bool
}

func (c *rawRangeCursor) Next() bool {
	if c.init {
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	return c.k != nil
}

func (c *rawRangeCursor) Key() []byte   { return c.k }
func (c *rawRangeCursor) Value() []byte { return c.v }
