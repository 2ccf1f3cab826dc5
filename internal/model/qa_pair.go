package model

type QaPair struct {
	ID          int64     `json:"id"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	SourceURL   string    `json:"source_url"`
	Topic       string    `json:"topic"`
	IsGenerated bool      `json:"is_generated"`
	Embedding   []float32 `json:"-"`
	Ctime       int64     `json:"ctime"`
}

// QaPairHit is one retrieval candidate for a single query. Rank is the
// 0-based position in the similarity ordering, Similarity is 1 - distance.
type QaPairHit struct {
	QaPair     QaPair  `json:"qa_pair"`
	Rank       int     `json:"rank"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}
