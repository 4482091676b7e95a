// Package logging provides a structured logging system for canopy built on
// Go's standard slog package.
//
// All log entries carry a subsystem identifier so that engine components
// (Registry, Document, Workspace, Watcher) can be filtered independently:
//
//	import "canopy/pkg/logging"
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Workspace", "Loaded configuration from %s", rootPath)
//	logging.Error("Document", err, "Failed to write %s", path)
//
// When Init is never called the package falls back to a WARN-level logger on
// stderr, so library use stays quiet by default.
//
// The package is safe for concurrent use from multiple goroutines.
package logging
