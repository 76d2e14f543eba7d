package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnknownCategory = errors.New("tools: unknown category")
	ErrUnknownTool     = errors.New("tools: unknown tool")
	ErrAmbiguousTool   = errors.New("tools: ambiguous tool name")
	ErrToolExists      = errors.New("tools: tool already registered")
	ErrNilHandler      = errors.New("tools: nil handler")
	ErrInvalidName     = errors.New("tools: invalid name")
	ErrShuttingDown    = errors.New("tools: manager shutting down")
)

// category holds one category's tool table and discovery state.
type category struct {
	tools      map[string]Tool
	schemas    map[string]map[string]any
	discovered bool
}

func newCategory() *category {
	return &category{
		tools:   make(map[string]Tool),
		schemas: make(map[string]map[string]any),
	}
}

// Manager is the two-level category/tool registry with lazy discovery.
//
// The category table is mutated only by discovery (additive) and by
// GracefulShutdown (clearing); dispatch reads without mutating.
type Manager struct {
	mu           sync.RWMutex
	categories   map[string]*category
	discovered   bool
	shuttingDown bool

	disc     Discoverer
	inflight sync.WaitGroup
}

// NewManager builds an empty manager. disc may be nil when every tool is
// registered directly.
func NewManager(disc Discoverer) *Manager {
	return &Manager{
		categories: make(map[string]*category),
		disc:       disc,
	}
}

// Register adds one tool to a category, creating the category on first
// reference. Component names must not contain the "." flattening separator.
func (m *Manager) Register(categoryName string, t Tool) error {
	if t.Handler == nil {
		return ErrNilHandler
	}
	if !isValidComponent(categoryName) {
		return fmt.Errorf("%w: category %q", ErrInvalidName, categoryName)
	}
	if !isValidComponent(t.Name) {
		return fmt.Errorf("%w: tool %q", ErrInvalidName, t.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cat, ok := m.categories[categoryName]
	if !ok {
		cat = newCategory()
		m.categories[categoryName] = cat
	}
	if _, ok := cat.tools[t.Name]; ok {
		return fmt.Errorf("%w: %s.%s", ErrToolExists, categoryName, t.Name)
	}
	cat.tools[t.Name] = t
	cat.schemas[t.Name] = t.InputSchema
	return nil
}

// Dispatch locates and invokes one tool, lazily discovering the category
// table and the category's tools on first reference.
func (m *Manager) Dispatch(ctx context.Context, categoryName, toolName string, args map[string]any) (any, error) {
	m.mu.RLock()
	down := m.shuttingDown
	m.mu.RUnlock()
	if down {
		return nil, ErrShuttingDown
	}

	if err := m.ensureCategories(ctx); err != nil {
		return nil, err
	}
	tool, err := m.lookup(ctx, categoryName, toolName)
	if err != nil {
		return nil, err
	}

	m.inflight.Add(1)
	defer m.inflight.Done()
	return tool.Handler(ctx, args)
}

// ResolveName maps a flattened name to its category/tool pair. Names of the
// form "category.tool" resolve directly; a bare tool name resolves when it
// is unique across all discovered categories.
func (m *Manager) ResolveName(ctx context.Context, name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if categoryName, toolName, ok := strings.Cut(name, "."); ok {
		return categoryName, toolName, nil
	}
	if name == "" {
		return "", "", fmt.Errorf("%w: empty name", ErrInvalidName)
	}

	if err := m.ensureCategories(ctx); err != nil {
		return "", "", err
	}
	for _, categoryName := range m.categoryNames() {
		if err := m.ensureTools(ctx, categoryName); err != nil {
			return "", "", err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var found string
	for categoryName, cat := range m.categories {
		if _, ok := cat.tools[name]; ok {
			if found != "" {
				return "", "", fmt.Errorf("%w: %q in %q and %q", ErrAmbiguousTool, name, found, categoryName)
			}
			found = categoryName
		}
	}
	if found == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return found, name, nil
}

// List returns the flattened tool listing across all categories in
// deterministic category-then-name order, triggering lazy discovery.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	if err := m.ensureCategories(ctx); err != nil {
		return nil, err
	}
	for _, categoryName := range m.categoryNames() {
		if err := m.ensureTools(ctx, categoryName); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]Info, 0)
	for categoryName, cat := range m.categories {
		for name, tool := range cat.tools {
			list = append(list, Info{
				Name:        name,
				Category:    categoryName,
				Description: tool.Description,
				InputSchema: cat.schemas[name],
			})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Category != list[j].Category {
			return list[i].Category < list[j].Category
		}
		return list[i].Name < list[j].Name
	})
	return list, nil
}

// GracefulShutdown drains in-flight dispatches and clears every category,
// bounded by timeout. It never fails: on deadline expiry it reports
// StatusTimeout with the partial clear count. A completed shutdown leaves
// the manager equivalent to freshly constructed and fully reusable.
func (m *Manager) GracefulShutdown(ctx context.Context, timeout time.Duration) ShutdownReport {
	deadline := time.Now().Add(timeout)

	m.mu.Lock()
	m.shuttingDown = true
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(drained)
	}()

	timedOut := false
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		timedOut = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cleared := 0
	for name, cat := range m.categories {
		if time.Now().After(deadline) {
			timedOut = true
			break
		}
		cat.tools = nil
		cat.schemas = nil
		cat.discovered = false
		delete(m.categories, name)
		cleared++
	}

	m.shuttingDown = false
	if timedOut {
		return ShutdownReport{Status: StatusTimeout, CategoriesCleared: cleared}
	}
	m.categories = make(map[string]*category)
	m.discovered = false
	return ShutdownReport{Status: StatusOK, CategoriesCleared: cleared}
}

// ensureCategories runs category discovery at most once per registry epoch.
// Discovery holds the write lock so concurrent readers see either the pre-
// or the fully-post-discovery table.
func (m *Manager) ensureCategories(ctx context.Context) error {
	m.mu.RLock()
	done := m.discovered
	m.mu.RUnlock()
	if done || m.disc == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discovered {
		return nil
	}
	names, err := m.disc.Categories(ctx)
	if err != nil {
		return fmt.Errorf("tools: category discovery: %w", err)
	}
	for _, name := range names {
		if _, ok := m.categories[name]; !ok {
			m.categories[name] = newCategory()
		}
	}
	m.discovered = true
	return nil
}

// ensureTools runs tool discovery for one category at most once.
func (m *Manager) ensureTools(ctx context.Context, categoryName string) error {
	m.mu.RLock()
	cat, ok := m.categories[categoryName]
	done := ok && cat.discovered
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, categoryName)
	}
	if done || m.disc == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cat, ok = m.categories[categoryName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, categoryName)
	}
	if cat.discovered {
		return nil
	}
	discovered, err := m.disc.Tools(ctx, categoryName)
	if err != nil {
		return fmt.Errorf("tools: tool discovery for %q: %w", categoryName, err)
	}
	for _, t := range discovered {
		if t.Handler == nil {
			continue
		}
		if _, ok := cat.tools[t.Name]; ok {
			continue
		}
		cat.tools[t.Name] = t
		cat.schemas[t.Name] = t.InputSchema
	}
	cat.discovered = true
	return nil
}

func (m *Manager) lookup(ctx context.Context, categoryName, toolName string) (Tool, error) {
	if err := m.ensureTools(ctx, categoryName); err != nil {
		return Tool{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	cat, ok := m.categories[categoryName]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %q", ErrUnknownCategory, categoryName)
	}
	tool, ok := cat.tools[toolName]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %q in category %q", ErrUnknownTool, toolName, categoryName)
	}
	return tool, nil
}

func (m *Manager) categoryNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.categories))
	for name := range m.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// isValidComponent accepts lowercase alphanumeric names with interior
// "-" or "_" separators. The "." separator is reserved for flattening.
func isValidComponent(name string) bool {
	if name == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if isSep && (i == 0 || i == len(name)-1 || lastSep) {
			return false
		}
		lastSep = isSep
	}
	return true
}
