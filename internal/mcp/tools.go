package mcp

// RespondInput is the input schema of the respond tool.
type RespondInput struct {
	Query     string   `json:"query" jsonschema:"the question to answer"`
	Filters   []string `json:"filters,omitempty" jsonschema:"metadata filters as field=value or field~v1,v2, e.g. article_number=33"`
	SessionID string   `json:"session_id,omitempty" jsonschema:"conversation id used to scope cached routing decisions"`
}

// RespondOutput is the output schema of the respond tool.
type RespondOutput struct {
	Answer        string     `json:"answer" jsonschema:"generated answer"`
	Citations     []Citation `json:"citations" jsonschema:"chunks placed in the prompt, in prompt order"`
	TierUsed      string     `json:"tier_used" jsonschema:"model tier that produced the answer: fast or complex"`
	RetrievalUsed bool       `json:"retrieval_used"`
	Degradations  []string   `json:"degradations,omitempty" jsonschema:"pipeline stages that fell back"`
	RequestID     string     `json:"request_id"`
}

// Citation identifies a cited chunk and its source document.
type Citation struct {
	ChunkID  string `json:"chunk_id"`
	SourceID string `json:"source_id,omitempty"`
}

// RetrieveInput is the input schema of the retrieve tool.
type RetrieveInput struct {
	Query   string   `json:"query" jsonschema:"the search query"`
	Filters []string `json:"filters,omitempty" jsonschema:"metadata filters as field=value or field~v1,v2"`
	TopK    int      `json:"top_k,omitempty" jsonschema:"number of chunks to return, default 5"`
}

// RetrieveOutput is the output schema of the retrieve tool.
type RetrieveOutput struct {
	Results      []RetrievedChunk `json:"results"`
	Degradations []string         `json:"degradations,omitempty"`
}

// RetrievedChunk is one ranked chunk.
type RetrievedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	SourceID   string  `json:"source_id,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score" jsonschema:"combined retrieval score; exact identifier matches score above 2"`
	ExactMatch bool    `json:"exact_match"`
	Variant    string  `json:"variant,omitempty" jsonschema:"query variant that matched best"`
}
