// Package run holds per-execution pipeline state and its persistence.
//
// State is the single source of truth across suspension boundaries: the
// engine loads it, executes stages against it, and writes it back after
// every stage commit. Store implementations provide atomic create and
// replace-if-version-matches per run id; backends exist for memory
// (default), Redis, and SQL databases via GORM.
package run
