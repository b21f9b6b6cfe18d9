// Package model defines the core data types shared by every engine
// component: document ids, vectors, attribute values, namespace schemas,
// and segment descriptors.
package model
