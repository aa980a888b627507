package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PullContext is the resolved, immutable configuration needed to pull one
// log source. It is built once at startup and shared read-only across all
// concurrent pulls; nothing mutates it after Load returns.
type PullContext struct {
	SourceName string
	Type       string
	Properties map[string]string
	SecretRef  string
}

// sourceFile mirrors the log_source.yml layout.
type sourceFile struct {
	Name    string `yaml:"name"`
	Managed struct {
		Type       string            `yaml:"type"`
		Properties map[string]string `yaml:"properties"`
	} `yaml:"managed"`
}

// Catalog maps source names to pull contexts. Read-only after Load, safe for
// unlimited concurrent readers.
type Catalog struct {
	contexts map[string]*PullContext
}

// Load builds a Catalog from dir, which holds one subdirectory per declared
// log source with a log_source.yml inside.
//
// Declarations whose managed type is not in allowedTypes, or that are missing
// a name, type, property set or secret ref, are skipped rather than rejected:
// catalogs may declare sources this worker does not handle. An unreadable
// directory or unparseable file is an error, since a broken catalog must keep
// the worker from accepting any batches.
func Load(dir string, allowedTypes []string, secretRefs map[string]string, log *zap.Logger) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read log source dir %q: %w", dir, err)
	}

	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}

	contexts := make(map[string]*PullContext)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		p := filepath.Join(dir, e.Name(), "log_source.yml")
		raw, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %q: %w", p, err)
		}

		var sf sourceFile
		if err := yaml.Unmarshal(raw, &sf); err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}

		if sf.Name == "" || sf.Managed.Type == "" || sf.Managed.Properties == nil {
			log.Debug("skipping incomplete log source declaration", zap.String("path", p))
			continue
		}
		if _, ok := allowed[sf.Managed.Type]; !ok {
			log.Debug("skipping log source of unhandled type",
				zap.String("log_source", sf.Name), zap.String("type", sf.Managed.Type))
			continue
		}
		ref, ok := secretRefs[sf.Name]
		if !ok || ref == "" {
			log.Debug("skipping log source without secret ref", zap.String("log_source", sf.Name))
			continue
		}

		props := make(map[string]string, len(sf.Managed.Properties)+1)
		for k, v := range sf.Managed.Properties {
			props[k] = v
		}
		props["log_source_type"] = sf.Managed.Type

		contexts[sf.Name] = &PullContext{
			SourceName: sf.Name,
			Type:       sf.Managed.Type,
			Properties: props,
			SecretRef:  ref,
		}
	}

	return &Catalog{contexts: contexts}, nil
}

// Resolve looks up the pull context for a source name.
func (c *Catalog) Resolve(sourceName string) (*PullContext, bool) {
	pc, ok := c.contexts[sourceName]
	return pc, ok
}

// Len reports how many sources are resolvable.
func (c *Catalog) Len() int {
	return len(c.contexts)
}
