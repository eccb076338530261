// Package ingest validates uploaded tabular files, converts them into rows,
// and stores them as records. It also serves stored rows back by id.
//
// Validation order is fixed: an upload over the size limit is rejected as too
// large even when its content type is also wrong.
package ingest
