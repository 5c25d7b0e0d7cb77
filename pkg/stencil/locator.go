package stencil

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ResourceLocator loads template sources for include, import and extends.
type ResourceLocator interface {
	// Resolve turns name, as written in a template rendered from the
	// template at from, into the locator's canonical path.
	Resolve(from, name string) string
	// Locate returns the source of the template at a resolved path.
	Locate(ctx context.Context, resolved string) (string, error)
}

// ResourceNotFoundError reports a template path no locator could load.
type ResourceNotFoundError struct {
	Path  string
	Cause error
}

func (e *ResourceNotFoundError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("template '%s' not found: %v", e.Path, e.Cause)
	}
	return fmt.Sprintf("template '%s' not found", e.Path)
}

func (e *ResourceNotFoundError) Unwrap() error {
	return e.Cause
}

// resolveRelative joins a relative name onto the directory of from.
// Names starting with '/' are taken from the root.
func resolveRelative(from, name string) string {
	if strings.HasPrefix(name, "/") {
		return path.Clean(strings.TrimPrefix(name, "/"))
	}
	if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") {
		return path.Clean(path.Join(path.Dir(from), name))
	}
	return path.Clean(name)
}

// MapLocator serves templates from memory.
type MapLocator struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewMapLocator returns a locator over a copy of templates.
func NewMapLocator(templates map[string]string) *MapLocator {
	m := &MapLocator{templates: map[string]string{}}
	for k, v := range templates {
		m.templates[path.Clean(k)] = v
	}
	return m
}

// Set adds or replaces a template.
func (m *MapLocator) Set(name, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[path.Clean(name)] = source
}

func (m *MapLocator) Resolve(from, name string) string {
	return resolveRelative(from, name)
}

func (m *MapLocator) Locate(_ context.Context, resolved string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.templates[resolved]
	if !ok {
		return "", &ResourceNotFoundError{Path: resolved}
	}
	return src, nil
}

// FileLocator reads templates below a root directory. Paths never escape
// the root.
type FileLocator struct {
	root    string
	watcher *fsnotify.Watcher
}

// NewFileLocator returns a locator rooted at dir.
func NewFileLocator(dir string) (*FileLocator, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &FileLocator{root: abs}, nil
}

func (l *FileLocator) Root() string {
	return l.root
}

func (l *FileLocator) Resolve(from, name string) string {
	return resolveRelative(from, name)
}

func (l *FileLocator) Locate(ctx context.Context, resolved string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := l.fullPath(resolved)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", &ResourceNotFoundError{Path: resolved, Cause: err}
	}
	return string(data), nil
}

func (l *FileLocator) fullPath(resolved string) (string, error) {
	full := filepath.Join(l.root, filepath.FromSlash(resolved))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ResourceNotFoundError{Path: resolved, Cause: fmt.Errorf("path escapes template root")}
	}
	return full, nil
}

// Watch reports changed templates to onChange, with paths relative to the
// root, until ctx is done. Subdirectories existing when Watch starts are
// watched too.
func (l *FileLocator) Watch(ctx context.Context, onChange func(resolved string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	l.watcher = w
	err = filepath.WalkDir(l.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				rel, err := filepath.Rel(l.root, ev.Name)
				if err != nil {
					continue
				}
				onChange(filepath.ToSlash(rel))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				Warn("template watch error: %v", err)
			}
		}
	}()
	return nil
}
