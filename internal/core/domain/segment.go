package domain

import "time"

// KnowledgeUnit is an atomic question/answer pair extracted from one
// segment. It has no identity of its own until written to the vector
// index.
type KnowledgeUnit struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Segment is a bounded slice of a document's converted markdown.
// Offsets are best-effort locators into the source text: inside an
// over-threshold section they are computed from running character
// counts of the reassembled paragraphs, not re-scanned against the
// original string.
type Segment struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Position    int    `json:"position"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Content     string `json:"content"`
	Breadcrumb  string `json:"breadcrumb,omitempty"`

	// Populated once by the extractor; never reordered afterward.
	Useful         bool            `json:"useful"`
	KnowledgeUnits []KnowledgeUnit `json:"knowledge_units,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	CleanedText    string          `json:"cleaned_text,omitempty"`
	CategorySlug   string          `json:"category_slug,omitempty"`
	PointIDs       []string        `json:"point_ids,omitempty"`
	RawExtraction  string          `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExtractionResult is the normalized output of the generative model for
// one segment. A parse failure degrades to the zero-value result with
// category MISC rather than an error.
type ExtractionResult struct {
	Useful         bool            `json:"useful"`
	KnowledgeUnits []KnowledgeUnit `json:"knowledge_units"`
	Category       string          `json:"category"`
	Summary        string          `json:"summary"`
	CleanedText    string          `json:"cleaned_content,omitempty"`
}

// Vector point types written for one useful segment.
const (
	PointTypeQAPair         = "qa_pair"
	PointTypeSourceMaterial = "source_material"
)

// VectorPoint is one embedding plus payload entry for the index;
// opaque to this core beyond id/vector/payload.
type VectorPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// AgentSettings is persisted configuration consumed, not owned, by this
// core. A document without resolvable settings still produces valid
// extraction results; it just skips vector indexing.
type AgentSettings struct {
	ID             string  `json:"id"`
	ModelName      string  `json:"model_name"`
	BaseURL        string  `json:"base_url,omitempty"`
	Temperature    float64 `json:"temperature"`
	ChunkThreshold int     `json:"chunk_threshold"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	SystemPrompt   string  `json:"system_prompt,omitempty"`
	Collection     string  `json:"collection,omitempty"`
}
