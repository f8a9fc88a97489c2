// Package config loads tether's own configuration: where it listens, which
// agent CLIs it knows how to launch, and the default permission mode new
// sessions start in. It is deliberately small — it is not a place for
// per-session model or provider selection, which belongs to the agent CLI
// being supervised.
//
// # Loading order
//
// Load merges configuration from, in increasing priority:
//
//  1. Global config: $XDG_CONFIG_HOME/tether/tether.json(c)
//  2. Project config: <directory>/.tether/tether.json(c)
//  3. A .env file in <directory>, loaded via godotenv
//  4. Process environment variables (TETHER_LISTEN_ADDR, TETHER_RELAY_URL,
//     TETHER_PERMISSION_MODE, TETHER_LOG_LEVEL)
//
// .json and .jsonc files are both accepted; .jsonc is decoded with
// tidwall/jsonc, which strips // and /* */ comments before standard JSON
// parsing.
package config
