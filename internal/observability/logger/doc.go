// Package logger provides a process-wide zap logger with context scoping.
//
// Init is called once from main; components receive named children via
// Named, and request handlers propagate scoped loggers through the context
// with ToContext / From.
//
//	logger.Init(logger.Config{Env: "prod", Level: "info", NodeID: "leader"})
//	defer logger.Sync()
//
//	log := logger.From(ctx)
//	log.Info("write accepted", logger.Key(key))
package logger
