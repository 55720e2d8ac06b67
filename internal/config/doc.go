// Package config loads, normalizes, and validates warden daemon
// configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads JSON files with comment tolerance, and resolves daemon
// names to config files via WARDEN_CONFIG_DIR and the default config
// directory. Interval values below documented minimums are clamped with
// recorded warnings rather than rejected; a failed Reload leaves the
// previous configuration untouched.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, clamped intervals, and clear validation errors.
package config
