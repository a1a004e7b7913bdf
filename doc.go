// Package resttap extracts records from arbitrary REST APIs.
//
// A tap is described by one configuration file: top-level defaults (API
// URL, authentication, pagination, backoff) and a list of streams that
// override them. Each stream is paged through, every record is flattened
// into a single-level map, and the largest replication key value seen is
// kept as state so the next run only asks for newer records.
//
// # Quick Start
//
// Extract every stream of a tap from Go:
//
//	import (
//	    "context"
//	    "os"
//
//	    "github.com/ajitpratap0/resttap/internal/runner"
//	    "github.com/ajitpratap0/resttap/pkg/config"
//	)
//
//	var cfg config.TapConfig
//	if err := config.Load("tap.yaml", &cfg); err != nil {
//	    return err
//	}
//
//	state, _ := runner.LoadState("state.json")
//	sink := runner.NewJSONLinesSink(os.Stdout)
//	summary, err := runner.New(&cfg).Run(context.Background(), state, sink)
//	_ = sink.Flush()
//	_ = summary.State.Save("state.json")
//
// Or from the command line:
//
//	resttap run --config tap.yaml --state state.json --state-out state.json
//	resttap discover --config tap.yaml --format yaml
//
// # Key Packages
//
//	pkg/config       - Configuration file, defaults and stream resolution
//	pkg/stream       - Page loop, request building and replication state
//	pkg/pagination   - Request and response pagination styles
//	pkg/auth         - none, basic, api_key, bearer, oauth and aws authenticators
//	pkg/clients      - HTTP client, backoff and retry policy
//	pkg/flatten      - Record flattening
//	pkg/schema       - Schema inference, supplied schemas and the schema registry
//	pkg/jsonpath     - JSONPath locators over decoded documents
//	pkg/errors       - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus collectors
//	pkg/observability - OpenTelemetry tracing
//
// # Configuration
//
// A minimal tap with two streams sharing bearer authentication:
//
//	api_url: https://api.example.com
//	auth_method: bearer
//	bearer_token: ${API_TOKEN}
//	records_path: "$.data[*]"
//	streams:
//	  - name: users
//	    path: /users
//	    primary_keys: [id]
//	    replication_key: updated_at
//	  - name: orders
//	    path: /orders
//	    pagination_request_style: offset_paginator
//	    pagination_page_size: 100
//
// ${VAR} references are replaced from the environment when the file is
// loaded.
package resttap
