package knowledge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/librarian-ai/librarian/internal/log"
	"github.com/librarian-ai/librarian/internal/security"
)

// maxFetchBytes caps the downloaded page size before extraction.
const maxFetchBytes = 4 * 1024 * 1024

// Ingester fetches web pages, extracts their readable text, and stores
// them as library documents.
type Ingester struct {
	store  *Store
	client *http.Client
	guard  *security.URL
	logger log.Logger
}

// NewIngester creates an ingester over store. A nil client gets an
// SSRF-guarded default with a 30-second timeout: URLs are validated
// before fetching, resolved IPs are checked at dial time, and every
// redirect target is re-validated. Passing a custom client disables
// the guard; the caller owns the transport.
func NewIngester(store *Store, client *http.Client, logger log.Logger) (*Ingester, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	var guard *security.URL
	if client == nil {
		guard = security.NewURL()
		client = &http.Client{
			Timeout:       30 * time.Second,
			Transport:     guard.SafeTransport(),
			CheckRedirect: guard.ValidateRedirect,
		}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Ingester{store: store, client: client, guard: guard, logger: logger}, nil
}

// IngestURL downloads pageURL, extracts the article text, and stores it.
// It returns the stored document's ID and title.
func (i *Ingester) IngestURL(ctx context.Context, pageURL string) (id, title string, err error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url %q: %w", pageURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	if i.guard != nil {
		if err := i.guard.Validate(pageURL); err != nil {
			return "", "", fmt.Errorf("unsafe url %q: %w", pageURL, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch %q: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch %q: unexpected status %d", pageURL, resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxFetchBytes), parsed)
	if err != nil {
		return "", "", fmt.Errorf("extract article from %q: %w", pageURL, err)
	}

	content := strings.TrimSpace(article.TextContent)
	if content == "" {
		return "", "", fmt.Errorf("no readable content at %q", pageURL)
	}
	if len(content) > MaxContentSize {
		content = content[:MaxContentSize]
	}

	title = strings.TrimSpace(article.Title)
	if title == "" {
		title = pageURL
	}

	id, err = i.store.Add(ctx, Document{
		Title:      title,
		Source:     pageURL,
		SourceType: SourceTypeURL,
		Content:    content,
		Metadata:   map[string]string{"excerpt": article.Excerpt},
	})
	if err != nil {
		return "", "", err
	}

	i.logger.Info("ingested url",
		"id", id,
		"url", pageURL,
		"title", title,
		"content_length", len(content))
	return id, title, nil
}
