package sqlexec

import "github.com/insightflow/insightflow/source"

// Default selection thresholds, in rows.
const (
	// EmbeddedMaxRows is the upper bound for in-process execution.
	EmbeddedMaxRows int64 = 1_000_000

	// BigDataMinRows is the lower bound for the columnar cluster.
	BigDataMinRows int64 = 100_000_000
)

// Select picks the execution engine for a request using the default
// thresholds.
//
// Size places the query on the embedded / aggregation / bigdata ladder, then
// source-kind overrides make the choice legal: file sources never leave the
// process for aggregation or direct SQL, API sources never reach direct SQL,
// and a remote database that would land on the embedded engine goes to
// direct SQL instead (its rows live server-side, there is nothing to load).
func Select(a Analysis, desc *source.Descriptor, pinned Kind) Kind {
	return selectKind(a, desc, pinned, EmbeddedMaxRows, BigDataMinRows)
}

func selectKind(a Analysis, desc *source.Descriptor, pinned Kind, embeddedMax, bigdataMin int64) Kind {
	if pinned != "" {
		return pinned
	}

	kind := KindEmbedded
	switch {
	case a.DataSize >= bigdataMin:
		kind = KindBigData
	case a.DataSize >= embeddedMax && a.AggregationHeavy():
		kind = KindAggregation
	}

	if desc == nil {
		return kind
	}

	switch desc.Kind {
	case source.KindFile:
		if kind == KindAggregation || kind == KindDirectSQL {
			kind = KindEmbedded
		}
	case source.KindAPI:
		if kind == KindDirectSQL || kind == KindBigData || kind == KindAggregation {
			kind = KindDataFrame
		}
		if kind == KindEmbedded {
			kind = KindDataFrame
		}
	default:
		if kind == KindEmbedded && desc.IsRemoteDatabase() {
			kind = KindDirectSQL
		}
	}
	return kind
}

// Fallback returns the legal alternative engine to try when the selected one
// is unavailable, or "" when there is none.
func Fallback(selected Kind, desc *source.Descriptor) Kind {
	switch selected {
	case KindAggregation, KindBigData:
		if desc != nil && desc.IsRemoteDatabase() {
			return KindDirectSQL
		}
		if desc != nil && desc.Kind == source.KindFile {
			return KindEmbedded
		}
	case KindDataFrame:
		return KindEmbedded
	}
	return ""
}
