// Package skill loads the markdown skills library and selects relevant
// skills per user message. A skill is a directory containing a SKILL.md
// whose content is injected into the system prompt when its keywords
// match the message.
package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/librarian-ai/librarian/internal/log"
)

// SkillFileName is the per-skill markdown file loaded from each skill
// directory.
const SkillFileName = "SKILL.md"

// Skill is one loaded entry of the skills library.
type Skill struct {
	// Name is the skill directory name, e.g. "docx".
	Name string
	// Category is the parent directory under the skills root, e.g.
	// "public" or "examples".
	Category string
	// Title is the first level-1 heading of SKILL.md, or Name when the
	// file has none.
	Title string
	// Description is the first paragraph of SKILL.md.
	Description string
	// Content is the full markdown source.
	Content string
	// Path is the absolute path the skill was loaded from.
	Path string
}

// Manager holds the loaded skills and the keyword table used for
// detection. Safe for concurrent use after Load.
type Manager struct {
	root     string
	logger   log.Logger
	keywords map[string][]string

	mu     sync.RWMutex
	skills map[string]*Skill
}

// DefaultKeywords maps skill names to the message keywords that select
// them. Matching is case-insensitive substring.
func DefaultKeywords() map[string][]string {
	return map[string][]string{
		"docx":            {"word", "docx", "document", "doc"},
		"pptx":            {"powerpoint", "pptx", "presentation", "slide"},
		"xlsx":            {"excel", "xlsx", "spreadsheet", "workbook"},
		"pdf":             {"pdf", "portable document"},
		"frontend-design": {"frontend", "ui", "interface", "react", "html", "css"},
		"theme-factory":   {"theme", "style", "color", "brand"},
		"skill-creator":   {"create skill", "new skill", "skill for"},
	}
}

// NewManager creates a manager rooted at dir. When keywords is nil the
// default table is used. Call Load before use.
func NewManager(dir string, keywords map[string][]string, logger log.Logger) *Manager {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		root:     dir,
		logger:   logger,
		keywords: keywords,
		skills:   make(map[string]*Skill),
	}
}

// Load walks the skills root and loads every <category>/<name>/SKILL.md.
// Unreadable entries are logged and skipped; a missing root is not an
// error so deployments without a skills volume still start.
func (m *Manager) Load() error {
	categories, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Warn("skills root not found, library disabled", "path", m.root)
			return nil
		}
		return fmt.Errorf("read skills root: %w", err)
	}

	loaded := make(map[string]*Skill)
	for _, cat := range categories {
		if !cat.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(m.root, cat.Name()))
		if err != nil {
			m.logger.Warn("skip skill category", "category", cat.Name(), "error", err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(m.root, cat.Name(), entry.Name(), SkillFileName)
			content, err := os.ReadFile(path)
			if err != nil {
				if !os.IsNotExist(err) {
					m.logger.Warn("skip unreadable skill", "path", path, "error", err)
				}
				continue
			}
			s := &Skill{
				Name:     entry.Name(),
				Category: cat.Name(),
				Content:  string(content),
				Path:     path,
			}
			s.Title, s.Description = parseHeader(content)
			if s.Title == "" {
				s.Title = s.Name
			}
			loaded[s.Name] = s
		}
	}

	m.mu.Lock()
	m.skills = loaded
	m.mu.Unlock()

	m.logger.Info("skills library loaded", "count", len(loaded), "root", m.root)
	return nil
}

// Get returns a loaded skill by name.
func (m *Manager) Get(name string) (*Skill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[name]
	return s, ok
}

// Names returns the loaded skill names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.skills))
	for name := range m.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detect returns the loaded skills whose keywords appear in message,
// sorted by name for deterministic prompts.
func (m *Manager) Detect(message string) []string {
	lower := strings.ToLower(message)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []string
	for name := range m.skills {
		for _, kw := range m.keywords[name] {
			if strings.Contains(lower, kw) {
				matched = append(matched, name)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched
}

// Search returns the names of skills whose content contains query,
// case-insensitive, sorted.
func (m *Manager) Search(query string) []string {
	lower := strings.ToLower(query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []string
	for name, s := range m.skills {
		if strings.Contains(strings.ToLower(s.Content), lower) {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)
	return matched
}

// SystemPrompt appends the named skills to the base prompt. Unknown
// names are ignored.
func (m *Manager) SystemPrompt(base string, names []string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(base)
	for _, name := range names {
		s, ok := m.skills[name]
		if !ok {
			continue
		}
		sb.WriteString("\n\n## Skill: ")
		sb.WriteString(s.Title)
		sb.WriteString("\n\n")
		sb.WriteString(s.Content)
	}
	return sb.String()
}

// parseHeader extracts the first H1 heading and first paragraph from the
// markdown source.
func parseHeader(src []byte) (title, description string) {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if title == "" && node.Level == 1 {
				title = nodeText(node, src)
			}
		case *ast.Paragraph:
			if description == "" {
				description = nodeText(node, src)
			}
		}
		if title != "" && description != "" {
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title, description
}

// nodeText joins a block node's source lines.
func nodeText(n ast.Node, src []byte) string {
	lines := n.Lines()
	var sb strings.Builder
	for i := range lines.Len() {
		seg := lines.At(i)
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(string(seg.Value(src))))
	}
	return sb.String()
}
