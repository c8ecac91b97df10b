package ingest

import (
	"context"
	"sort"
	"sync"
)

// BoxData is opaque per-archive metadata a parser derives once per
// matching run and receives back for every file.
type BoxData any

// FileParseRequest carries everything a parser needs to interpret one
// discovered file.
type FileParseRequest struct {
	Experiment Experiment
	Box        StorageBox
	Storage    *ArchiveStorage
	Directory  string
	Filename   string
	Path       string
	BoxData    BoxData
}

// Parser owns interpretation of archives tagged with a schema
// namespace. ParseFile returns the matched or newly created catalog
// file, or nil when the parser claims the file without cataloguing it.
type Parser interface {
	ParseBoxData(ctx context.Context, exp Experiment, box StorageBox, storage *ArchiveStorage) (BoxData, error)
	ParseFile(ctx context.Context, req FileParseRequest) (*DataFile, error)
}

// Registry resolves which parser, if any, owns a schema namespace.
// The namespace→parser-name mapping comes from configuration; concrete
// parsers register by name at startup. A nil resolution means default
// ingestion, never an error.
type Registry struct {
	mu          sync.RWMutex
	parsers     map[string]Parser
	byNamespace map[string]string // namespace → parser name
}

// NewRegistry builds a registry from the configured namespace mapping.
func NewRegistry(cfg Config) *Registry {
	byNS := make(map[string]string, len(cfg.Parsers))
	for ns, name := range cfg.Parsers {
		byNS[ns] = name
	}
	return &Registry{
		parsers:     make(map[string]Parser),
		byNamespace: byNS,
	}
}

// Register installs a concrete parser under the given name.
func (r *Registry) Register(name string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[name] = p
}

// Namespaces returns the configured schema namespaces, sorted.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byNamespace))
	for ns := range r.byNamespace {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// ForNamespace returns the parser configured and registered for the
// namespace, or nil.
func (r *Registry) ForNamespace(ns string) Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byNamespace[ns]
	if !ok {
		return nil
	}
	return r.parsers[name]
}

// ForExperiment walks the experiment's schema namespaces and returns
// the first one with a configured parser, or nil for default
// ingestion. Ties should not occur in a well-formed configuration;
// enumeration order is the sorted namespace order for determinism.
func (r *Registry) ForExperiment(ctx context.Context, store *Store, exp Experiment) (Parser, error) {
	namespaces, err := store.ExperimentNamespaces(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	for _, ns := range namespaces {
		if p := r.ForNamespace(ns); p != nil {
			return p, nil
		}
	}
	return nil, nil
}
