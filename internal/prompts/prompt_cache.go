package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

var funcs = template.FuncMap{
	"join": strings.Join,
}

// PromptCache caches parsed prompt templates to avoid repeated file reads
type PromptCache struct {
	mu        sync.RWMutex
	dir       string
	defaults  fs.FS
	templates map[string]*template.Template
	raw       map[string]string
}

func NewPromptCache(dir string, defaults fs.FS) *PromptCache {
	return &PromptCache{
		dir:       dir,
		defaults:  defaults,
		templates: make(map[string]*template.Template),
		raw:       make(map[string]string),
	}
}

// LoadPrompt returns the raw template text, preferring an override file.
func (pc *PromptCache) LoadPrompt(name string) (string, error) {
	pc.mu.RLock()
	if content, ok := pc.raw[name]; ok {
		pc.mu.RUnlock()
		return content, nil
	}
	pc.mu.RUnlock()

	content, err := pc.read(name)
	if err != nil {
		return "", err
	}

	pc.mu.Lock()
	pc.raw[name] = content
	pc.mu.Unlock()

	return content, nil
}

func (pc *PromptCache) read(name string) (string, error) {
	file := name + ".tmpl"
	if pc.dir != "" {
		data, err := os.ReadFile(filepath.Join(pc.dir, file))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("reading prompt override %s: %w", name, err)
		}
	}

	data, err := fs.ReadFile(pc.defaults, "templates/"+file)
	if err != nil {
		return "", fmt.Errorf("reading prompt %s: %w", name, err)
	}
	return string(data), nil
}

// LoadTemplate loads and parses a template from file or cache
func (pc *PromptCache) LoadTemplate(name string) (*template.Template, error) {
	pc.mu.RLock()
	if tmpl, ok := pc.templates[name]; ok {
		pc.mu.RUnlock()
		return tmpl, nil
	}
	pc.mu.RUnlock()

	content, err := pc.LoadPrompt(name)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}

	pc.mu.Lock()
	pc.templates[name] = tmpl
	pc.mu.Unlock()

	return tmpl, nil
}

// Clear removes all cached prompts and templates
func (pc *PromptCache) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.templates = make(map[string]*template.Template)
	pc.raw = make(map[string]string)
}

// Preload parses the named templates into the cache.
func (pc *PromptCache) Preload(names []string) error {
	for _, name := range names {
		if _, err := pc.LoadTemplate(name); err != nil {
			return fmt.Errorf("preloading %s: %w", name, err)
		}
	}
	return nil
}

// Stats returns cache statistics
func (pc *PromptCache) Stats() (templates int, raw int) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	return len(pc.templates), len(pc.raw)
}
