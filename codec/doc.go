// Package codec encodes batches of documents into immutable columnar
// segment payloads and decodes rows back out by id set.
//
// Layout: a short magic header, one independently compressed block per
// column, and a footer locating the blocks and carrying the cheap metadata
// probes (row count, id range). Rows are sorted by id; the id column
// therefore supports binary search for point reads. Undeclared attributes
// are dropped at write time.
package codec
