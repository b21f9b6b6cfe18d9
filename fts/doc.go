// Package fts provides per-segment full-text indexes with BM25 scoring
// and per-field analyzer pipelines.
//
// The analyzer pipeline order is fixed: tokenize, drop over-long tokens,
// optional ASCII folding, optional lowercasing, optional stopword removal,
// optional Snowball stemming. Stopword removal and stemming are no-ops for
// languages without support.
//
// A Builder accepts (docID, text) pairs during segment construction and
// flushes to an immutable blob; a Reader opens the blob and answers
// Search(query, topK) with BM25 scores (k1=1.2, b=0.75).
package fts
