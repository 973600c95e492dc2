// Package config loads the daemon's optional startup file: a single
// YAML file, no fallback discovery, merged underneath whatever flags
// the caller parsed on top. There is no environment-variable override
// layer and no directory search — the file path is whatever the
// caller passes in, or the daemon runs on flag defaults alone.
package config
