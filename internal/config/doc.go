// Package config handles configuration loading for coven-botkit.
//
// # Configuration File
//
// Location, in priority order:
//
//  1. Path from the COVEN_BOTKIT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/botkit.yaml
//  3. ~/.config/coven/botkit.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML. Both
// formats use the same snake_case keys.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	botframework:
//	  app_password: "${MICROSOFT_APP_PASSWORD}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// botframework.request_timeout and dedupe.ttl use time.ParseDuration syntax
// ("30s", "5m").
//
// # Validation
//
// Parse applies defaults and then Validate, which requires a listen address
// (or Tailscale), a database path and at least one enabled adapter, and
// checks adapter credentials and logging values.
//
// Example holds the starter file written by `coven-botkit init`.
package config
