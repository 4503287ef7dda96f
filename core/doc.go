// Package core defines the domain model for the ingestion pipeline: sources,
// raw candidate items, structured recommendations, run metrics, and the
// schema-driven validator.
package core
