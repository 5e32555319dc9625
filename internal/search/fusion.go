package search

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter; k=60 is
// the widely validated default.
const DefaultRRFConstant = 60

// Weights balance the two retrievers under RRF fusion.
type Weights struct {
	Lexical  float64
	Semantic float64
}

// DefaultWeights favor semantic slightly, matching mixed-query behavior.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.35, Semantic: 0.65}
}

// fuseBoost merges the two chunk lists with the source policy: union
// keyed by chunk, max score across sources, and a multiplicative boost
// for chunks both retrievers agree on. Normalized (semantic-only)
// scores clamp at 1.0; BM25-scale scores are left unbounded.
func fuseBoost(semantic, lexical []*chunkHit, boost float64) []*chunkHit {
	if boost <= 0 {
		boost = 1.2
	}

	merged := make(map[int64]*chunkHit, len(semantic)+len(lexical))
	for _, h := range semantic {
		merged[h.chunkID] = h
	}
	for _, h := range lexical {
		prev, ok := merged[h.chunkID]
		if !ok {
			merged[h.chunkID] = h
			continue
		}
		// In both lists: keep the max score, boost, mark hybrid.
		score := prev.score
		if h.score > score {
			score = h.score
		}
		score *= boost
		if prev.score <= 1.0 && h.score <= 1.0 && score > 1.0 {
			score = 1.0
		}
		prev.score = score
		prev.lexRank = h.lexRank
		prev.matchType = MatchHybrid
		prev.chunkIndex = h.chunkIndex
		if prev.content == "" {
			prev.content = h.content
		}
		if prev.fileName == "" {
			prev.fileName = h.fileName
			prev.filePath = h.filePath
			prev.fileType = h.fileType
		}
	}

	return sortHits(mapValues(merged))
}

// fuseRRF merges the two lists with weighted reciprocal rank fusion,
// the principled alternative when BM25 and cosine scales should not be
// compared directly.
func fuseRRF(semantic, lexical []*chunkHit, k int, w Weights) []*chunkHit {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if w.Lexical <= 0 && w.Semantic <= 0 {
		w = DefaultWeights()
	}

	merged := make(map[int64]*chunkHit, len(semantic)+len(lexical))
	score := make(map[int64]float64)

	for _, h := range semantic {
		merged[h.chunkID] = h
		score[h.chunkID] += w.Semantic / float64(k+h.semRank)
	}
	for _, h := range lexical {
		if prev, ok := merged[h.chunkID]; ok {
			prev.lexRank = h.lexRank
			prev.matchType = MatchHybrid
			prev.chunkIndex = h.chunkIndex
			if prev.content == "" {
				prev.content = h.content
			}
		} else {
			merged[h.chunkID] = h
		}
		score[h.chunkID] += w.Lexical / float64(k+h.lexRank)
	}

	// Contributions for the missing source use rank just past the
	// longer list, so single-source hits are not unduly punished.
	missingRank := len(semantic)
	if len(lexical) > missingRank {
		missingRank = len(lexical)
	}
	missingRank++
	for id, h := range merged {
		if h.semRank == 0 {
			score[id] += w.Semantic / float64(k+missingRank)
		}
		if h.lexRank == 0 {
			score[id] += w.Lexical / float64(k+missingRank)
		}
	}

	out := mapValues(merged)
	var max float64
	for _, h := range out {
		h.score = score[h.chunkID]
		if h.score > max {
			max = h.score
		}
	}
	if max > 0 {
		for _, h := range out {
			h.score /= max
		}
	}
	return sortHits(out)
}

// groupByFile keeps the single best-scoring chunk per file, breaking
// ties toward the lower chunk index.
func groupByFile(hits []*chunkHit) []*chunkHit {
	best := make(map[int64]*chunkHit)
	for _, h := range hits {
		prev, ok := best[h.fileID]
		if !ok || h.score > prev.score ||
			(h.score == prev.score && h.chunkIndex < prev.chunkIndex) {
			best[h.fileID] = h
		}
	}
	return sortHits(mapValues(best))
}

// sortHits orders by score descending, then chunk index, then chunk ID,
// for deterministic results on equal scores.
func sortHits(hits []*chunkHit) []*chunkHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].chunkIndex != hits[j].chunkIndex {
			return hits[i].chunkIndex < hits[j].chunkIndex
		}
		return hits[i].chunkID < hits[j].chunkID
	})
	return hits
}

func mapValues(m map[int64]*chunkHit) []*chunkHit {
	out := make([]*chunkHit, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	return out
}
