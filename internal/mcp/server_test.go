package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librarian-ai/librarian/internal/knowledge"
	"github.com/librarian-ai/librarian/internal/log"
	"github.com/librarian-ai/librarian/internal/skill"
	"github.com/librarian-ai/librarian/internal/testutil"
	"github.com/librarian-ai/librarian/internal/tool"
)

// stubQuerier replays canned rows for the MCP server tests.
type stubQuerier struct {
	searchRows []knowledge.SearchDocumentsRow
	listRows   []knowledge.ListDocumentsRow
	count      int64
}

func (s *stubQuerier) UpsertDocument(context.Context, knowledge.UpsertDocumentParams) error {
	return nil
}

func (s *stubQuerier) SearchDocuments(context.Context, knowledge.SearchDocumentsParams) ([]knowledge.SearchDocumentsRow, error) {
	return s.searchRows, nil
}

func (s *stubQuerier) CountDocuments(context.Context) (int64, error) { return s.count, nil }

func (s *stubQuerier) DeleteDocument(context.Context, string) error { return nil }

func (s *stubQuerier) ListDocuments(context.Context, int32) ([]knowledge.ListDocumentsRow, error) {
	return s.listRows, nil
}

func newTestLibrary(t *testing.T, sq *stubQuerier) *tool.Library {
	t.Helper()

	g := genkit.Init(context.Background())
	require.NotNil(t, g)
	embedder := testutil.NewMockEmbedder(8).Register(g)

	store, err := knowledge.NewStore(sq, embedder, log.NewNop())
	require.NoError(t, err)

	skillRoot := t.TempDir()
	dir := filepath.Join(skillRoot, "public", "pdf")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, skill.SkillFileName),
		[]byte("# PDF Toolkit\n\nPDF manipulation and generation.\n"), 0o644))
	skills := skill.NewManager(skillRoot, nil, log.NewNop())
	require.NoError(t, skills.Load())

	lib, err := tool.NewLibrary(store, nil, skills, log.NewNop())
	require.NoError(t, err)
	return lib
}

// connectServer creates an MCP server around the library and an SDK
// client connected via in-memory transports.
func connectServer(t *testing.T, sq *stubQuerier) *mcp.ClientSession {
	t.Helper()

	server, err := NewServer(Config{
		Name:    "librarian",
		Version: "test",
		Library: newTestLibrary(t, sq),
	})
	require.NoError(t, err)

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Config{Version: "1", Library: nil})
	assert.Error(t, err)

	_, err = NewServer(Config{Name: "librarian", Version: "1"})
	assert.Error(t, err, "library is required")
}

func TestListTools(t *testing.T) {
	session := connectServer(t, &stubQuerier{})

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tl := range result.Tools {
		names = append(names, tl.Name)
	}
	sort.Strings(names)

	// No ingester in the fixture, so ingest_document is absent.
	assert.Equal(t, []string{
		tool.GetCatalogName,
		tool.QuerySkillName,
		tool.SearchDocsName,
	}, names)
}

func TestCallSearchDocs(t *testing.T) {
	sq := &stubQuerier{
		searchRows: []knowledge.SearchDocumentsRow{{
			ID:         "doc-1",
			Title:      "Shelving Guide",
			Source:     "https://example.com/shelving",
			SourceType: knowledge.SourceTypeURL,
			Content:    "How to shelve books.",
			CreatedAt:  pgtype.Timestamptz{Time: time.Now(), Valid: true},
			Similarity: 0.87,
		}},
	}
	session := connectServer(t, sq)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      tool.SearchDocsName,
		Arguments: map[string]any{"query": "shelving"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := textContent(t, result)
	var out tool.SearchDocsOutput
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "Shelving Guide", out.Results[0].Title)
}

func TestCallQuerySkill_Unknown(t *testing.T) {
	session := connectServer(t, &stubQuerier{})

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      tool.QuerySkillName,
		Arguments: map[string]any{"skillName": "no-such-skill"},
	})
	require.NoError(t, err, "tool failures are error results, not protocol errors")
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "unknown skill")
}

func TestCallGetCatalog(t *testing.T) {
	sq := &stubQuerier{count: 2, listRows: []knowledge.ListDocumentsRow{
		{ID: "a", Title: "First", SourceType: knowledge.SourceTypeManual},
		{ID: "b", Title: "Second", SourceType: knowledge.SourceTypeURL},
	}}
	session := connectServer(t, sq)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      tool.GetCatalogName,
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out tool.GetCatalogOutput
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.EqualValues(t, 2, out.Total)
	assert.Equal(t, []string{"pdf"}, out.Skills)
	require.Len(t, out.Documents, 2)
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}
