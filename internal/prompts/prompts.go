// Package prompts renders the text sent to the completion service. Default
// templates are embedded in the binary and may be overridden per file from a
// directory on disk.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"log/slog"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// Template names.
const (
	Foundation    = "foundation"
	Characters    = "characters"
	Chapters      = "chapters"
	Title         = "title"
	ChapterSystem = "chapter_system"
	ChapterUser   = "chapter_user"
	Continuity    = "continuity"
	QAQuality     = "qa_quality"
	QASafety      = "qa_safety"
	QAValues      = "qa_values"
	Cover         = "cover"
)

// Variations is the number of phrasings shipped for each DNA stage.
const Variations = 3

// Variation names the v-th phrasing (0-based) of a DNA stage template.
func Variation(stage string, v int) string {
	return fmt.Sprintf("%s_%d", stage, v%Variations+1)
}

// Library renders named templates.
type Library struct {
	cache  *PromptCache
	logger *slog.Logger
}

// NewLibrary returns a library reading overrides from dir. An empty dir uses
// the embedded templates only.
func NewLibrary(dir string) *Library {
	return &Library{
		cache:  NewPromptCache(dir, defaultTemplates),
		logger: slog.Default().With("component", "prompts"),
	}
}

// Render executes the named template with data.
func (l *Library) Render(name string, data interface{}) (string, error) {
	tmpl, err := l.cache.LoadTemplate(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

// Preload parses every embedded template so a broken override fails at
// startup rather than mid-run.
func (l *Library) Preload() error {
	entries, err := defaultTemplates.ReadDir("templates")
	if err != nil {
		return fmt.Errorf("listing templates: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, trimExt(e.Name()))
	}
	if err := l.cache.Preload(names); err != nil {
		return err
	}
	templates, _ := l.cache.Stats()
	l.logger.Debug("prompt templates loaded", "count", templates)
	return nil
}

func trimExt(name string) string {
	const ext = ".tmpl"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}
