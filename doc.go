// Package civicsync keeps warehouse tables in step with Socrata open-data
// resources such as the DataSF building permit and real estate datasets.
//
// Each configured dataset is synced by one sequential run:
//
//	watermark -> plan -> fetch -> normalize -> dedupe -> reconcile -> load
//
// Incremental datasets read the newest data_loaded_at value stored in the
// destination table, ask the API only for newer records and append them.
// Snapshot datasets fetch everything, stamp each row with the load time and
// replace the table.
//
// # Quick Start
//
//	civicsync config                         # print the effective config
//	civicsync plan building_permits          # show the request a run would send
//	civicsync run --full-refresh building_permits
//	civicsync run                            # sync every dataset
//	civicsync schedule --cron "0 6 * * *"
//
// # Key Packages
//
//	internal/pipeline                      - Watermark, normalize, dedupe, reconcile, load and the run loop
//	pkg/connector/core                     - Warehouse contract and destination schema types
//	pkg/connector/sources/socrata          - Fetch planner and SODA API client
//	pkg/connector/destinations/bigquery    - BigQuery load jobs with optional GCS staging
//	pkg/connector/destinations/sqlwarehouse - SQLite and PostgreSQL warehouses
//	pkg/connector/registry                 - Warehouse factories by kind
//	pkg/config                             - YAML configuration with environment overrides
//	pkg/syncerrors                         - Structured error types
//	pkg/logger                             - Structured logging
//	pkg/metrics                            - Prometheus metrics pushed to a Pushgateway
//	pkg/observability                      - OpenTelemetry tracing of pipeline stages
//
// # Configuration
//
// Configuration is YAML with ${VAR_NAME} substitution. Any key can be
// overridden from the environment with the CIVICSYNC_ prefix, e.g.
// CIVICSYNC_WAREHOUSE_PROJECT_ID. A .env file in the working directory is
// loaded first when present.
//
// # Exit Status
//
// civicsync exits 0 when every dataset succeeded, including runs that found
// no new data, and 1 otherwise.
package civicsync
