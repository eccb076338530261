// Package store defines the record persistence contract shared by the ingest
// service and the storage backends. Implementations live under
// internal/storage; this package must not import database drivers or concrete
// clients.
package store
