// Package config loads civicsync configuration.
//
// # Sources
//
// Configuration is layered, last one wins:
//
//  1. NewConfig defaults (the DataSF datasets, BigQuery warehouse)
//  2. the YAML file passed with --config
//  3. CIVICSYNC_* environment variables, with "." in key paths replaced
//     by "_" (CIVICSYNC_WAREHOUSE_PROJECT_ID sets warehouse.project_id)
//
// A datasets list in the file replaces the default list as a whole.
//
// ## Environment Variable Substitution
//
//	# civicsync.yaml
//	source:
//	  app_token: ${SOCRATA_APP_TOKEN}
//	warehouse:
//	  kind: bigquery
//	  credentials_file: ${GOOGLE_APPLICATION_CREDENTIALS}
//
// # Datasets
//
//	datasets:
//	  - name: building_permits
//	    resource_id: i98e-djp9
//	    mode: incremental       # or snapshot
//	    page_limit: 100000
//	    timestamp_field: data_loaded_at
//	    timestamp_columns: [data_loaded_at]
//	    natural_key: [permit_number, filed_date, issued_date]
//
// An empty natural_key deduplicates on whole rows.
package config
