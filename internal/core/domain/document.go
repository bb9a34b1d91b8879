package domain

// DocumentID uniquely identifies a document within one ingested corpus.
type DocumentID string

// RawDocument is what a DocumentSource yields before ingestion tags it.
type RawDocument struct {
	Locator string `json:"locator"`
	Content string `json:"content"`
}

// Document is one ingested record. Documents are created by the ingestion
// stage and never mutated afterwards; the corpus is shared read-only between
// the agent loop and the sandbox. Batch and WorkerTag exist for log
// cosmetics only and carry no correctness weight.
type Document struct {
	ID        DocumentID `json:"id"`
	Locator   string     `json:"locator"`
	Content   string     `json:"content"`
	Batch     int        `json:"batch"`
	WorkerTag string     `json:"worker_tag"`
}
