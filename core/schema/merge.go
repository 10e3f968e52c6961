package schema

import "time"

// MergeStats reports what a merge did, for observability and tests.
type MergeStats struct {
	PreservedManual int `json:"preserved_manual"`
	UpdatedOrAdded  int `json:"updated_or_added"`
}

// Merge combines a previously stored schema with a freshly normalized one.
//
// Fields of the old schema count as manual when they carry manual
// provenance or when the current sampling pass no longer observes their
// name. Manual fields are copied into the result unchanged, a schema
// refresh never drops or overwrites them. Every fresh field is written
// with provenance "database" and its analysis timestamp set to now, unless
// its name is manual in the old schema: manual strictly dominates and the
// fresh entry is discarded.
//
// Merge is a pure function over its two inputs, safe for concurrent use,
// and idempotent: merging the result with the same fresh schema again
// yields the same result.
func Merge(old, fresh Schema, now time.Time) (Schema, MergeStats) {
	merged := make(Schema, len(old)+len(fresh))
	var stats MergeStats

	manual := make(map[string]bool, len(old))
	for name, field := range old {
		_, observed := fresh[name]
		if field.Provenance == ProvenanceManual || !observed {
			manual[name] = true
			merged[name] = field
			stats.PreservedManual++
		}
	}

	for name, field := range fresh {
		if manual[name] {
			continue
		}
		field.Provenance = ProvenanceDatabase
		field.LastAnalyzedAt = now
		merged[name] = field
		stats.UpdatedOrAdded++
	}

	return merged, stats
}
