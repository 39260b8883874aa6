// SPDX-License-Identifier: MPL-2.0

// Package config handles host configuration using Viper with CUE as the file format.
//
// Configuration is loaded from config.cue in the modhost configuration
// directory ($XDG_CONFIG_HOME/modhost on Linux, ~/Library/Application
// Support/modhost on macOS, %APPDATA%\modhost on Windows), or from an
// explicit path. The file is validated against an embedded CUE schema
// (config_schema.cue) before it is merged over the defaults, and every key
// can be overridden with a MODHOST_ environment variable, dots replaced by
// underscores (MODHOST_FETCH_TIMEOUT=30s).
package config
