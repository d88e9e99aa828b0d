// Package cache provides the content-addressed result caches used by the
// multi-engine executor: an in-process LRU and an optional Redis-class
// scoped store. Entries are keyed by a stable hash over the organization
// and project scope, source id, engine, optimization flag, and SQL text, so
// concurrent writes of the same query converge on identical values.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Scope isolates cache entries between tenants.
type Scope struct {
	OrganizationID string
	ProjectID      string
}

// Key computes the stable content hash for a query result entry.
//
// The same (scope, source, engine, optimize, sql) always produces the same
// key; whitespace-only differences in SQL are not normalized away since the
// executor caches post-rewrite SQL.
func Key(scope Scope, sourceID, engine string, optimize bool, sqlText string) string {
	h := sha256.New()
	parts := []string{
		scope.OrganizationID,
		scope.ProjectID,
		sourceID,
		engine,
		strconv.FormatBool(optimize),
		strings.TrimSpace(sqlText),
	}
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SchemaKey computes the cache key for a source's schema.
func SchemaKey(scope Scope, sourceID string) string {
	h := sha256.New()
	for _, p := range []string{"schema", scope.OrganizationID, scope.ProjectID, sourceID} {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
