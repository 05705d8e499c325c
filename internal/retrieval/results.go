package retrieval

// Hit is one matched document returned from a content search, with the
// metadata a caller needs to label and link the match.
type Hit struct {
	Document     string
	CourseTitle  string
	LessonNumber *int
	ChunkIndex   int
	Distance     float32
}

// SearchResults is the outcome of a content search. Exactly one of the
// two cases holds: Err is non-empty and Hits is nil, or Err is empty
// and Hits carries zero or more matches.
type SearchResults struct {
	Hits []Hit
	Err  string
}

// IsEmpty reports whether the search succeeded but matched nothing.
func (r SearchResults) IsEmpty() bool {
	return r.Err == "" && len(r.Hits) == 0
}

func errorResults(msg string) SearchResults {
	return SearchResults{Err: msg}
}

func hitResults(scored []ScoredRecord) SearchResults {
	hits := make([]Hit, len(scored))
	for i, s := range scored {
		hits[i] = Hit{
			Document:     s.Document,
			CourseTitle:  s.CourseTitle,
			LessonNumber: s.LessonNumber,
			ChunkIndex:   s.ChunkIndex,
			Distance:     s.Distance,
		}
	}
	return SearchResults{Hits: hits}
}
