// Package manifest manages the versioned, atomically published read views
// of a namespace.
//
// Each version is an immutable JSON object at manifests/v{version:08}.json;
// a small pointer object at manifests/current.txt names the active version
// and carries the WAL watermark. Writers publish by writing the next
// version object and conditionally swapping the pointer (if-match on its
// etag); readers resolve the pointer and fetch the named version, so they
// observe only committed views.
package manifest
