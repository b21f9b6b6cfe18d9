// Package query defines the normalized query request, the cost-aware plan
// selection between filter-first and retrieve-first execution, and rank
// fusion for hybrid results.
package query
