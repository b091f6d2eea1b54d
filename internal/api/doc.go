// Package api serves the node's HTTP interface.
//
// Leader and follower share one chi router; the node role decides which
// routes answer and which return 405. Errors are rendered as JSON bodies of
// the form {"code", "message", "detail"}.
//
// GET /{key} shares the root with the fixed routes, so keys named dump,
// dump-versions, config, readyz or metrics cannot be read through it; the
// fixed route answers instead. They remain visible in /dump.
package api
