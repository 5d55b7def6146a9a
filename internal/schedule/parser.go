package schedule

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/telecast-dev/telecast/internal/logger"
)

// Load reads a schedule document from disk, resolving imports depth-first
// and merging them underneath the local definitions: a content or sequence
// key defined locally overrides one inherited from an import. Cyclic
// imports fail with ImportCycleError.
func Load(path string) (*Document, error) {
	visiting := make(map[string]bool)
	doc, err := load(path, visiting)
	if err != nil {
		return nil, err
	}
	// Imported files may be partial (content or sequences only); only the
	// merged top-level document has to be a complete schedule.
	if err := validate(doc); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", path, err)
	}
	return doc, nil
}

// Parse parses a schedule document from raw YAML without import resolution.
// Documents passed to Parse must not declare imports.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schedule: %w", err)
	}
	if len(doc.Imports) > 0 {
		return nil, fmt.Errorf("%w: imports require loading from a file path", ErrInvalidDocument)
	}
	if err := validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func load(path string, visiting map[string]bool) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schedule path %s: %w", path, err)
	}

	if visiting[abs] {
		return nil, &ImportCycleError{Path: abs}
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule %s: %w", abs, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schedule %s: %w", abs, err)
	}

	// Imports merge in declaration order, each later one overriding keys
	// from earlier ones, with the local document overriding them all.
	if len(doc.Imports) > 0 {
		merged := Document{Name: doc.Name}
		for _, imp := range doc.Imports {
			impPath := imp
			if !filepath.IsAbs(impPath) {
				impPath = filepath.Join(filepath.Dir(abs), impPath)
			}
			impDoc, err := load(impPath, visiting)
			if err != nil {
				return nil, err
			}
			mergeInto(&merged, impDoc)
		}
		mergeInto(&merged, &doc)
		doc = merged
	}

	logger.Log.Debug().
		Str("path", abs).
		Str("name", doc.Name).
		Int("content", len(doc.Content)).
		Int("sequences", len(doc.Sequences)).
		Int("playout", len(doc.Playout)).
		Msg("Schedule document loaded")

	return &doc, nil
}

// mergeInto overlays src onto dst: content and sequence keys in src replace
// same-keyed entries in dst, and a non-empty src playout replaces dst's.
func mergeInto(dst, src *Document) {
	if src.Name != "" {
		dst.Name = src.Name
	}

	for _, cd := range src.Content {
		replaced := false
		for i := range dst.Content {
			if dst.Content[i].Key == cd.Key {
				dst.Content[i] = cd
				replaced = true
				break
			}
		}
		if !replaced {
			dst.Content = append(dst.Content, cd)
		}
	}

	for _, seq := range src.Sequences {
		replaced := false
		for i := range dst.Sequences {
			if dst.Sequences[i].Key == seq.Key {
				dst.Sequences[i] = seq
				replaced = true
				break
			}
		}
		if !replaced {
			dst.Sequences = append(dst.Sequences, seq)
		}
	}

	if len(src.Playout) > 0 {
		dst.Playout = src.Playout
	}
}

// validate checks document structure before compilation
func validate(doc *Document) error {
	if doc.Name == "" {
		return fmt.Errorf("%w: schedule name is required", ErrInvalidDocument)
	}
	if len(doc.Playout) == 0 {
		return fmt.Errorf("%w: playout list is empty", ErrInvalidDocument)
	}

	seen := make(map[string]bool)
	for _, cd := range doc.Content {
		if cd.Key == "" {
			return fmt.Errorf("%w: content definition missing key", ErrInvalidDocument)
		}
		if seen[cd.Key] {
			return fmt.Errorf("%w: duplicate content key %q", ErrInvalidDocument, cd.Key)
		}
		seen[cd.Key] = true
		if cd.Collection == "" {
			return fmt.Errorf("%w: content %q missing collection", ErrInvalidDocument, cd.Key)
		}
		if cd.Order != "" && !cd.Order.IsValid() {
			return fmt.Errorf("%w: content %q has invalid order %q", ErrInvalidDocument, cd.Key, cd.Order)
		}
	}

	seqSeen := make(map[string]bool)
	for _, seq := range doc.Sequences {
		if seq.Key == "" {
			return fmt.Errorf("%w: sequence missing key", ErrInvalidDocument)
		}
		if seqSeen[seq.Key] {
			return fmt.Errorf("%w: duplicate sequence key %q", ErrInvalidDocument, seq.Key)
		}
		seqSeen[seq.Key] = true
		for i := range seq.Items {
			if err := seq.Items[i].Validate(); err != nil {
				return fmt.Errorf("%w: sequence %q item %d: %v", ErrInvalidDocument, seq.Key, i, err)
			}
		}
	}

	for i, entry := range doc.Playout {
		if entry.Sequence == "" {
			return fmt.Errorf("%w: playout entry %d missing sequence", ErrInvalidDocument, i)
		}
		if !seqSeen[entry.Sequence] {
			return fmt.Errorf("%w: playout references unknown sequence %q", ErrInvalidDocument, entry.Sequence)
		}
		if entry.Repeat && i != len(doc.Playout)-1 {
			return fmt.Errorf("%w: repeat is only valid on the final playout entry", ErrInvalidDocument)
		}
	}

	return nil
}
