// Package knowledge implements the knowledge native tool: session notes
// kept in an in-memory full-text index.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
)

const defaultLimit = 5

// Note is one stored entry.
type Note struct {
	Name  string  `json:"name"`
	Value string  `json:"value"`
	Score float64 `json:"score,omitempty"`
}

// Store holds the notes of one process.
type Store struct {
	mu    sync.Mutex
	index bleve.Index
	notes map[string]string
}

// NewStore creates an empty in-memory store.
func NewStore() (*Store, error) {
	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge index: %w", err)
	}
	return &Store{index: index, notes: make(map[string]string)}, nil
}

func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	name := bleve.NewTextFieldMapping()
	name.Analyzer = keyword.Name
	name.Store = true
	doc.AddFieldMappingsAt("name", name)

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = false
	doc.AddFieldMappingsAt("text", text)

	im.DefaultMapping = doc
	return im
}

// Add stores value under name, replacing an earlier note of that name.
func (s *Store) Add(name, value string) error {
	if name == "" || value == "" {
		return fmt.Errorf("name and value are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// The name is searchable too
	if err := s.index.Index(name, map[string]any{"name": name, "text": name + " " + value}); err != nil {
		return fmt.Errorf("failed to index note: %w", err)
	}
	s.notes[name] = value
	return nil
}

// Remove deletes the note called name.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[name]; !ok {
		return fmt.Errorf("no note named %q", name)
	}
	if err := s.index.Delete(name); err != nil {
		return fmt.Errorf("failed to remove note: %w", err)
	}
	delete(s.notes, name)
	return nil
}

// Clear deletes every note and returns how many there were.
func (s *Store) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.index.NewBatch()
	for name := range s.notes {
		batch.Delete(name)
	}
	if err := s.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to clear notes: %w", err)
	}
	n := len(s.notes)
	s.notes = make(map[string]string)
	return n, nil
}

// Show lists every note ordered by name.
func (s *Store) Show() []Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Note, 0, len(s.notes))
	for name, value := range s.notes {
		out = append(out, Note{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search returns the best matching notes for query, best first.
func (s *Store) Search(query string, limit int) ([]Note, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	out := make([]Note, 0, len(res.Hits))
	for _, hit := range res.Hits {
		value, ok := s.notes[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Note{Name: hit.ID, Value: value, Score: hit.Score})
	}
	return out, nil
}

// Close releases the index.
func (s *Store) Close() error {
	return s.index.Close()
}

// NewTool returns the knowledge tool backed by store.
func NewTool(store *Store) engine.Tool {
	return engine.Tool{
		Name: "knowledge",
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			var result any
			switch command, _ := args["command"].(string); command {
			case "add":
				if err := store.Add(name, stringOf(args["value"])); err != nil {
					return "", err
				}
				result = map[string]any{"status": "added", "name": name}
			case "remove":
				if err := store.Remove(name); err != nil {
					return "", err
				}
				result = map[string]any{"status": "removed", "name": name}
			case "clear":
				n, err := store.Clear()
				if err != nil {
					return "", err
				}
				result = map[string]any{"status": "cleared", "count": n}
			case "show":
				result = store.Show()
			case "search":
				limit, _ := args["limit"].(float64)
				notes, err := store.Search(stringOf(args["query"]), int(limit))
				if err != nil {
					return "", err
				}
				result = notes
			default:
				return "", fmt.Errorf("unknown command %q", command)
			}
			out, err := json.Marshal(result)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
		Category: "memory",
	}
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
