package content

import "time"

// Ref is what an upload learns about the content it was stored as.
type Ref struct {
	ID       string `json:"content_id"`
	Size     int64  `json:"size_bytes"`
	RefCount int64  `json:"ref_count"`
	// Deduplicated is true when identical bytes were already stored and
	// only the reference count moved.
	Deduplicated bool `json:"deduplicated"`
}

// Record is the persisted state of one unique content.
type Record struct {
	ID          string    `json:"content_id"`
	ObjectName  string    `json:"object_name"`
	Size        int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	RefCount    int64     `json:"ref_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
