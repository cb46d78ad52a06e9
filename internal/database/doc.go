// Package database opens the TimescaleDB pool used by the track recorder and
// creates its tables.
package database
