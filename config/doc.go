// Package config loads the process configuration: a YAML file merged with
// ELACSYM_* environment overrides over built-in defaults. Precedence is
// environment > file > defaults. Fatal validation errors are returned to
// the caller, which exits non-zero.
package config
