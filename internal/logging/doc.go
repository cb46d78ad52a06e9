// Package logging builds the process logger.
//
// Components take a *slog.Logger. The handler behind it writes through
// zerolog, so output is zerolog JSON in production and zerolog's console
// writer during development:
//
//	logger := logging.New(cfg.Logging, os.Stderr)
//	logger.Info("tracker starting", "instance", cfg.Instance.ID)
package logging
