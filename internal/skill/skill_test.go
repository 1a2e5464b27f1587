package skill

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librarian-ai/librarian/internal/log"
)

func writeSkill(t *testing.T, root, category, name, content string) {
	t.Helper()
	dir := filepath.Join(root, category, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, SkillFileName), []byte(content), 0o644))
}

func newLoadedManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	writeSkill(t, root, "public", "docx",
		"# Word Documents\n\nExpert guide for creating and editing Word documents.\n\n## Usage\n\nUse python-docx.\n")
	writeSkill(t, root, "public", "pdf",
		"# PDF Toolkit\n\nPDF manipulation and generation.\n")
	writeSkill(t, root, "examples", "theme-factory",
		"Styling toolkit without a heading.\n")

	m := NewManager(root, nil, log.NewNop())
	require.NoError(t, m.Load())
	return m
}

func TestManager_LoadParsesHeader(t *testing.T) {
	t.Parallel()

	m := newLoadedManager(t)
	require.Equal(t, []string{"docx", "pdf", "theme-factory"}, m.Names())

	s, ok := m.Get("docx")
	require.True(t, ok)
	assert.Equal(t, "Word Documents", s.Title)
	assert.Equal(t, "Expert guide for creating and editing Word documents.", s.Description)
	assert.Equal(t, "public", s.Category)
	assert.Contains(t, s.Content, "## Usage")

	s, ok = m.Get("theme-factory")
	require.True(t, ok)
	assert.Equal(t, "theme-factory", s.Title, "missing heading falls back to the directory name")
	assert.Equal(t, "examples", s.Category)
}

func TestManager_LoadMissingRoot(t *testing.T) {
	t.Parallel()

	m := NewManager(filepath.Join(t.TempDir(), "nope"), nil, log.NewNop())
	require.NoError(t, m.Load())
	assert.Empty(t, m.Names())
}

func TestManager_Detect(t *testing.T) {
	t.Parallel()

	m := newLoadedManager(t)

	tests := []struct {
		name    string
		message string
		want    []string
	}{
		{"single match", "Please draft a Word document for me", []string{"docx"}},
		{"multiple matches sorted", "Export the doc as a PDF with our brand colors", []string{"docx", "pdf", "theme-factory"}},
		{"case insensitive", "EXPORT AS PDF", []string{"pdf"}},
		{"unloaded skill ignored", "build a react frontend", nil},
		{"no match", "what time is it", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, m.Detect(tt.message))
		})
	}
}

func TestManager_Search(t *testing.T) {
	t.Parallel()

	m := newLoadedManager(t)
	assert.Equal(t, []string{"docx"}, m.Search("python-docx"))
	assert.Equal(t, []string{"docx", "pdf"}, m.Search("guide"))
	assert.Empty(t, m.Search("nonexistent"))
}

func TestManager_SystemPrompt(t *testing.T) {
	t.Parallel()

	m := newLoadedManager(t)

	prompt := m.SystemPrompt("You are a librarian.", []string{"pdf", "missing"})
	assert.Contains(t, prompt, "You are a librarian.")
	assert.Contains(t, prompt, "## Skill: PDF Toolkit")
	assert.Contains(t, prompt, "PDF manipulation and generation.")
	assert.NotContains(t, prompt, "missing")

	assert.Equal(t, "base", m.SystemPrompt("base", nil))
}
