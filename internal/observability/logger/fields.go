package logger

import (
	"time"

	"go.uber.org/zap"
)

// RequestID tags an entry with the HTTP request id.
func RequestID(v string) zap.Field { return zap.String("request_id", v) }

// Method tags an entry with the HTTP method.
func Method(v string) zap.Field { return zap.String("method", v) }

// Path tags an entry with the HTTP path.
func Path(v string) zap.Field { return zap.String("path", v) }

// Status tags an entry with the HTTP status.
func Status(v int) zap.Field { return zap.Int("status", v) }

// Duration tags an entry with an elapsed time.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Key tags an entry with the replicated key.
func Key(v string) zap.Field { return zap.String("key", v) }

// Peer tags an entry with a peer id.
func Peer(v string) zap.Field { return zap.String("peer", v) }

// Addr tags an entry with a network address.
func Addr(v string) zap.Field { return zap.String("addr", v) }

// Timestamp tags an entry with a replication timestamp.
func Timestamp(v time.Time) zap.Field { return zap.Time("ts", v) }

// Quorum tags an entry with a quorum threshold.
func Quorum(v int) zap.Field { return zap.Int("quorum", v) }

// Op tags an entry with the current operation.
func Op(v string) zap.Field { return zap.String("op", v) }
