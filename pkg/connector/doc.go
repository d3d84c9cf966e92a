// Package connector groups the pieces a load is assembled from.
//
// # Architecture Overview
//
//   - core: the SourceBuilder, SourceConn, Rows and Destination interfaces
//     plus the optional Counter, SchemaProber and RangeProber capabilities.
//
//   - sqldb: a database/sql based SourceBuilder shared by the SQL sources.
//
//   - sources: PostgreSQL, MySQL, SQLite, Snowflake and BigQuery builders.
//     Importing the sources package registers all of them.
//
//   - destinations: the frame destination, with typed column arrays, and the
//     Arrow destination, producing one record per run.
//
//   - registry: maps URL schemes to source families and opens builders from
//     connection URLs.
//
// # Example Usage
//
// Opening a source by URL:
//
//	src, err := registry.OpenSource(ctx, "mysql://root@localhost:3306/shop", cfg)
//	if err != nil {
//		return err
//	}
//	defer src.Close()
//
// Destinations are created directly or by family name:
//
//	dst, err := registry.CreateDestination("arrow", cfg)
package connector
