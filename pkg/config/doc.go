// Package config defines the tap configuration: top-level defaults, the
// per-stream overrides, and the resolved StreamConfig each stream run is
// built from.
//
// # File format
//
// Configuration is YAML (or JSON when the file ends in .json). Settings
// shared by every stream may be given at the top level and again on a
// stream, where the stream value wins; params and headers are shallow-merged
// with stream keys winning on collision. Auth, backoff and HTTP settings are
// top-level only.
//
//	api_url: https://api.example.com
//	auth_method: oauth
//	access_token_url: https://auth.example.com/token
//	grant_type: client_credentials
//	client_id: ${CLIENT_ID}
//	client_secret: ${CLIENT_SECRET}
//	headers:
//	  Accept: application/json
//	streams:
//	  - name: users
//	    path: /v1/users
//	    records_path: $.data[*]
//	    primary_keys: [id]
//	    replication_key: updated_at
//	    source_search_field: since
//	    source_search_query: $last_run_date
//
// # Environment Variable Substitution
//
// ${VAR_NAME} is replaced with the variable's value before parsing, and
// ${VAR_NAME:-fallback} uses fallback when the variable is unset or empty.
//
// # Durations
//
// Duration settings accept Go duration strings ("90s", "5m") or a bare
// number of seconds.
//
// # Resolution
//
//	var cfg config.TapConfig
//	if err := config.Load("tap.yaml", &cfg); err != nil {
//		log.Fatal(err)
//	}
//	streams, err := cfg.ResolveAll() // merged, defaulted and validated
//
// Validation only checks shape: required fields, known style and auth tags,
// and compilable JSONPath expressions. It never contacts the API.
package config
