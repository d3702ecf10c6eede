// Package catalog provides full-text search over a merged tool catalog.
package catalog

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/ChamsBouzaiene/toolhub/internal/toolmgr"
)

const defaultLimit = 10

// Hit is one search result.
type Hit struct {
	Spec  toolmgr.ToolSpec
	Score float64
}

// Index is an in-memory index over a catalog snapshot. Build a new one when
// the catalog changes.
type Index struct {
	index bleve.Index
	specs map[string]toolmgr.ToolSpec
}

// New indexes specs.
func New(specs []toolmgr.ToolSpec) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog index: %w", err)
	}
	c := &Index{index: idx, specs: make(map[string]toolmgr.ToolSpec, len(specs))}

	batch := idx.NewBatch()
	for _, s := range specs {
		doc := map[string]any{
			"name":   strings.ToLower(s.Name),
			"origin": s.Origin.String(),
			"text":   words(s.Name) + " " + s.Description,
		}
		if err := batch.Index(s.Name, doc); err != nil {
			idx.Close()
			return nil, fmt.Errorf("failed to index %s: %w", s.Name, err)
		}
		c.specs[s.Name] = s
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to index catalog: %w", err)
	}
	return c, nil
}

func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	for _, field := range []string{"name", "origin"} {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = false
		doc.AddFieldMappingsAt(field, fm)
	}

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = false
	doc.AddFieldMappingsAt("text", text)

	im.DefaultMapping = doc
	return im
}

// words splits a tool name on underscores so its parts match on their own.
func words(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// Search returns the tools best matching q: name substrings rank first,
// then full-text matches on the name parts and description. A non-empty
// origin restricts hits to that server, or to native tools with "native".
func (c *Index) Search(q, origin string, limit int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	byName := bleve.NewWildcardQuery("*" + escapeWildcard(strings.ToLower(q)) + "*")
	byName.SetField("name")
	byName.SetBoost(3)
	byText := bleve.NewMatchQuery(q)
	byText.SetField("text")

	var root query.Query = bleve.NewDisjunctionQuery(byName, byText)
	if origin != "" {
		byOrigin := bleve.NewTermQuery(origin)
		byOrigin.SetField("origin")
		root = bleve.NewConjunctionQuery(root, byOrigin)
	}

	req := bleve.NewSearchRequest(root)
	req.Size = limit
	res, err := c.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		if s, ok := c.specs[h.ID]; ok {
			hits = append(hits, Hit{Spec: s, Score: h.Score})
		}
	}
	return hits, nil
}

// Len returns the number of indexed tools.
func (c *Index) Len() int { return len(c.specs) }

// Close releases the index.
func (c *Index) Close() error { return c.index.Close() }

func escapeWildcard(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `\`, `\\`)
	return r.Replace(s)
}
