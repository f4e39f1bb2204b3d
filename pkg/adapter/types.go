package adapter

// CompletionRequest is a single-turn chat request.
type CompletionRequest struct {
	System      string
	Prompt      string
	JSON        bool // ask the provider for a JSON object when it supports it
	Temperature *float64
	MaxTokens   int
}

// Completion is the normalized text output of a chat request.
type Completion struct {
	Text  string
	Model string
}

// SearchRequest is a web-search-augmented question.
type SearchRequest struct {
	System    string
	Query     string
	MaxTokens int
}

// Annotation is a source cited by a search answer.
type Annotation struct {
	Title      string `json:"title,omitempty"`
	URL        string `json:"url"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

// SearchResult is the normalized output of a search request.
type SearchResult struct {
	RawText     string
	Annotations []Annotation
	Model       string
}

// Image is an image reference for vision requests. URL may be an https URL
// or a data: URL carrying base64 content.
type Image struct {
	URL string
}

// VisionRequest is a chat request over text plus images.
type VisionRequest struct {
	System    string
	Prompt    string
	Images    []Image
	MaxTokens int
}
