package tool

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/librarian-ai/librarian/internal/knowledge"
	"github.com/librarian-ai/librarian/internal/log"
	"github.com/librarian-ai/librarian/internal/skill"
)

// Librarian tool names registered with Genkit.
const (
	SearchDocsName     = "search_docs"
	IngestDocumentName = "ingest_document"
	QuerySkillName     = "query_skill"
	GetCatalogName     = "get_catalog"
)

// Result caps for the search tools.
const (
	DefaultSearchTopK = 5
	MaxSearchTopK     = 10
	snippetLength     = 400
)

// SearchDocsInput is the input schema for search_docs.
type SearchDocsInput struct {
	Query      string `json:"query" jsonschema_description:"The search query. Be specific about what you are looking for."`
	TopK       int    `json:"topK,omitempty" jsonschema_description:"Maximum results to return (1-10, default 5)"`
	SourceType string `json:"sourceType,omitempty" jsonschema_description:"Optional filter: manual, url, or file"`
}

// SearchDocsHit is one search result.
type SearchDocsHit struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Source     string  `json:"source,omitempty"`
	Snippet    string  `json:"snippet"`
	Similarity float32 `json:"similarity"`
}

// SearchDocsOutput is the output schema for search_docs.
type SearchDocsOutput struct {
	Results []SearchDocsHit `json:"results"`
}

// IngestDocumentInput is the input schema for ingest_document.
type IngestDocumentInput struct {
	URL string `json:"url" jsonschema_description:"HTTP or HTTPS URL of the page to ingest"`
}

// IngestDocumentOutput is the output schema for ingest_document.
type IngestDocumentOutput struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// QuerySkillInput is the input schema for query_skill.
type QuerySkillInput struct {
	SkillName string `json:"skillName" jsonschema_description:"Name of the skill to query"`
}

// QuerySkillOutput is the output schema for query_skill.
type QuerySkillOutput struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
}

// GetCatalogInput is the input schema for get_catalog.
type GetCatalogInput struct {
	Limit int `json:"limit,omitempty" jsonschema_description:"Maximum entries to return"`
}

// GetCatalogOutput is the output schema for get_catalog.
type GetCatalogOutput struct {
	Total     int                      `json:"total"`
	Documents []knowledge.CatalogEntry `json:"documents"`
	Skills    []string                 `json:"skills,omitempty"`
}

// Library holds the dependencies behind the librarian tools. Ingester
// and skills are optional; their tools are simply not registered when
// absent.
type Library struct {
	store    *knowledge.Store
	ingester *knowledge.Ingester
	skills   *skill.Manager
	logger   log.Logger
}

// NewLibrary creates a Library. The knowledge store is required.
func NewLibrary(store *knowledge.Store, ingester *knowledge.Ingester, skills *skill.Manager, logger log.Logger) (*Library, error) {
	if store == nil {
		return nil, fmt.Errorf("knowledge store is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Library{store: store, ingester: ingester, skills: skills, logger: logger}, nil
}

// RegisterLibrary defines the librarian tools on the dispatcher.
func RegisterLibrary(d *Dispatcher, g *genkit.Genkit, lib *Library) ([]ai.Tool, error) {
	if d == nil || g == nil {
		return nil, fmt.Errorf("dispatcher and genkit instance are required")
	}
	if lib == nil {
		return nil, fmt.Errorf("library is required")
	}

	tools := []ai.Tool{
		Define(d, g, SearchDocsName,
			"Search the library index for relevant documents using semantic similarity. "+
				"Returns document titles, sources, content snippets, and similarity scores. "+
				"Default topK: 5. Maximum topK: 10.",
			lib.SearchDocs),
		Define(d, g, GetCatalogName,
			"List the documents available in the library catalog and the loaded skills. "+
				"Useful for understanding what knowledge is available before searching.",
			lib.GetCatalog),
	}

	if lib.ingester != nil {
		tools = append(tools, Define(d, g, IngestDocumentName,
			"Ingest a web page into the library index. Downloads the URL, extracts the "+
				"readable article text, and stores it for later search_docs retrieval.",
			lib.IngestDocument))
	}
	if lib.skills != nil {
		tools = append(tools, Define(d, g, QuerySkillName,
			"Get the full content of a specific skill. Skills contain expert guidance "+
				"about document creation, design, and other specialized topics.",
			lib.QuerySkill))
	}
	return tools, nil
}

// HasIngester reports whether URL ingestion is available.
func (l *Library) HasIngester() bool { return l.ingester != nil }

// HasSkills reports whether a skill manager is attached.
func (l *Library) HasSkills() bool { return l.skills != nil }

// SearchDocs handles search_docs.
func (l *Library) SearchDocs(ctx context.Context, in SearchDocsInput) (SearchDocsOutput, error) {
	if in.Query == "" {
		return SearchDocsOutput{}, fmt.Errorf("query is required")
	}
	topK := in.TopK
	if topK <= 0 {
		topK = DefaultSearchTopK
	}
	if topK > MaxSearchTopK {
		topK = MaxSearchTopK
	}

	opts := []knowledge.SearchOption{knowledge.WithTopK(topK)}
	if in.SourceType != "" {
		opts = append(opts, knowledge.WithSourceType(in.SourceType))
	}
	results, err := l.store.Search(ctx, in.Query, opts...)
	if err != nil {
		return SearchDocsOutput{}, err
	}

	out := SearchDocsOutput{Results: make([]SearchDocsHit, 0, len(results))}
	for _, r := range results {
		snippet := r.Document.Content
		if len(snippet) > snippetLength {
			snippet = snippet[:snippetLength]
		}
		out.Results = append(out.Results, SearchDocsHit{
			ID:         r.Document.ID,
			Title:      r.Document.Title,
			Source:     r.Document.Source,
			Snippet:    snippet,
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// IngestDocument handles ingest_document.
func (l *Library) IngestDocument(ctx context.Context, in IngestDocumentInput) (IngestDocumentOutput, error) {
	if in.URL == "" {
		return IngestDocumentOutput{}, fmt.Errorf("url is required")
	}
	id, title, err := l.ingester.IngestURL(ctx, in.URL)
	if err != nil {
		return IngestDocumentOutput{}, err
	}
	return IngestDocumentOutput{ID: id, Title: title}, nil
}

// QuerySkill handles query_skill.
func (l *Library) QuerySkill(_ context.Context, in QuerySkillInput) (QuerySkillOutput, error) {
	if in.SkillName == "" {
		return QuerySkillOutput{}, fmt.Errorf("skillName is required")
	}
	s, ok := l.skills.Get(in.SkillName)
	if !ok {
		return QuerySkillOutput{}, fmt.Errorf("unknown skill %q, available: %v", in.SkillName, l.skills.Names())
	}
	return QuerySkillOutput{
		Name:        s.Name,
		Title:       s.Title,
		Description: s.Description,
		Content:     s.Content,
	}, nil
}

// GetCatalog handles get_catalog.
func (l *Library) GetCatalog(ctx context.Context, in GetCatalogInput) (GetCatalogOutput, error) {
	entries, total, err := l.store.Catalog(ctx, in.Limit)
	if err != nil {
		return GetCatalogOutput{}, err
	}
	out := GetCatalogOutput{Total: total, Documents: entries}
	if l.skills != nil {
		out.Skills = l.skills.Names()
	}
	return out, nil
}
