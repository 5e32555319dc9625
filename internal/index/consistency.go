package index

import (
	"context"
)

// ConsistencyReport compares the relational store against the two
// secondary indexes. The store owns identity; both indexes should hold
// exactly one entry per chunk.
type ConsistencyReport struct {
	// StoreChunks is the number of chunk rows in the relational store.
	StoreChunks int

	// VectorChunks is the number of live vectors.
	VectorChunks int

	// FulltextDocs is the number of full-text documents.
	FulltextDocs uint64

	// MissingVectors are chunk IDs present in the store but absent from
	// the vector index (candidates for reindexing).
	MissingVectors []int64

	// OrphanVectors are chunk IDs present in the vector index but gone
	// from the store (candidates for deletion).
	OrphanVectors []int64
}

// Consistent reports whether all three stores agree.
func (r *ConsistencyReport) Consistent() bool {
	return len(r.MissingVectors) == 0 && len(r.OrphanVectors) == 0 &&
		uint64(r.StoreChunks) == r.FulltextDocs
}

// CheckConsistency cross-checks the stores. It is a read-only
// diagnostic; repairs go through Reindex or RemoveFile.
func (r *Runner) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	storeIDs, err := r.store.AllChunkIDs(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := r.fulltext.Count()
	if err != nil {
		return nil, err
	}

	vectorIDs := r.vector.ChunkIDs()
	inVector := make(map[int64]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		inVector[id] = struct{}{}
	}
	inStore := make(map[int64]struct{}, len(storeIDs))
	for _, id := range storeIDs {
		inStore[id] = struct{}{}
	}

	report := &ConsistencyReport{
		StoreChunks:  len(storeIDs),
		VectorChunks: len(vectorIDs),
		FulltextDocs: docs,
	}
	for _, id := range storeIDs {
		if _, ok := inVector[id]; !ok {
			report.MissingVectors = append(report.MissingVectors, id)
		}
	}
	for _, id := range vectorIDs {
		if _, ok := inStore[id]; !ok {
			report.OrphanVectors = append(report.OrphanVectors, id)
		}
	}
	return report, nil
}
