package knowledge

import "time"

// Source type constants for knowledge documents.
const (
	// SourceTypeManual marks documents stored directly by the model or
	// an operator.
	SourceTypeManual = "manual"
	// SourceTypeURL marks documents ingested from a web page.
	SourceTypeURL = "url"
	// SourceTypeFile marks documents ingested from local files.
	SourceTypeFile = "file"
)

// Document is one entry of the library index.
type Document struct {
	ID         string
	Title      string
	Source     string
	SourceType string
	Content    string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Result pairs a document with its cosine similarity to a query.
type Result struct {
	Document   Document
	Similarity float32
}

// CatalogEntry is a document summary without content, for catalog
// listings.
type CatalogEntry struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Source     string    `json:"source,omitempty"`
	SourceType string    `json:"sourceType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SearchOption configures Search via functional options.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK       int
	sourceType string
	timeout    time.Duration
}

// WithTopK sets the maximum number of results. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithSourceType restricts results to one source type.
func WithSourceType(sourceType string) SearchOption {
	return func(c *searchConfig) {
		c.sourceType = sourceType
	}
}

// WithTimeout overrides the default 10s search deadline.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		c.timeout = d
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    5,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
