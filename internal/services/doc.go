// Package services defines shared utilities consumed by the pipeline stages
// and external computation adapters.
//
// Key responsibilities:
//   - Context helpers that stamp subject identifiers, stage names, and run
//     identifiers for logging correlation.
//   - Structured error markers plus the Wrap helper that keep the stage error
//     taxonomy (configuration, data, computation, storage) consistent across
//     the pipeline.
//
// Use these helpers when wiring new stage logic so operational behaviour
// stays uniform across the pipeline.
package services
