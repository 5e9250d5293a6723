// Package config loads encounterd configuration.
//
// # Configuration Loading
//
// Load merges sources in priority order, later sources winning:
//
//  1. Built-in defaults (see Default)
//  2. Global config in $XDG_CONFIG_HOME/encounterd/
//  3. Project config: encounterd.json, encounterd.jsonc, encounterd.yaml or
//     encounterd.yml in the working directory or its .encounterd/ subdirectory
//  4. The file named by ENCOUNTERD_CONFIG
//  5. ENCOUNTERD_* environment variables, parsed with caarlos0/env
//  6. ANTHROPIC_API_KEY, OPENAI_API_KEY and ARK_API_KEY for providers without a key
//
// JSON files may carry comments (tidwall/jsonc). YAML files use the same keys.
//
// # Variable Interpolation
//
// String values may reference the environment or a file:
//
//	{
//	  "hmacSecret": "{file:~/.encounterd/secret}",
//	  "provider": {
//	    "anthropic": { "apiKey": "{env:CLAUDE_KEY}" }
//	  }
//	}
//
// Relative file paths resolve against the directory of the config file.
//
// # Example
//
//	engine:
//	  gatewayURL: http://gateway:8081
//	session:
//	  dataDir: /var/lib/encounterd
//	  persistActive: false
package config
