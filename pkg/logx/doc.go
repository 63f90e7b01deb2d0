// Package logx is translatord's logging layer over zerolog.
//
// A Service owns the sinks (stdout, pretty or JSON, and an optional append-only
// JSON file) and can be re-applied when the config reloads. Loggers are plain
// values that carry fixed fields and an optional component name; the
// component selects a per-component level override.
package logx
