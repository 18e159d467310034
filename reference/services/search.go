package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fleet-console-backend/db/models"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

var ErrNotLoaded = errors.New("reference data has not been loaded for this session")

type searchDoc struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// SearchIndex is an in-memory bleve index over one session's reference lists.
type SearchIndex struct {
	index bleve.Index
	names map[string]models.ReferenceItem
}

func NewSearchIndex(data *models.ReferenceData) (*SearchIndex, error) {
	kindField := bleve.NewKeywordFieldMapping()
	nameField := bleve.NewTextFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("kind", kindField)
	doc.AddFieldMappingsAt("name", nameField)

	mapping := bleve.NewIndexMapping()
	mapping.DefaultMapping = doc

	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference index: %w", err)
	}

	s := &SearchIndex{index: idx, names: make(map[string]models.ReferenceItem)}

	batch := idx.NewBatch()
	for _, kind := range models.ReferenceKinds {
		for _, item := range data.List(kind) {
			id := docID(kind, item.ID)
			s.names[id] = item
			if err := batch.Index(id, searchDoc{Kind: string(kind), Name: item.Name}); err != nil {
				_ = idx.Close()
				return nil, fmt.Errorf("failed to index %s: %w", id, err)
			}
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to build reference index: %w", err)
	}
	return s, nil
}

func docID(kind models.ReferenceKind, id int) string {
	return string(kind) + ":" + strconv.Itoa(id)
}

// Search matches whole words and word prefixes of the query within kind.
func (s *SearchIndex) Search(kind models.ReferenceKind, text string, limit int) ([]models.ReferenceItem, error) {
	kindQuery := bleve.NewTermQuery(string(kind))
	kindQuery.SetField("kind")

	var nameQueries []query.Query
	match := bleve.NewMatchQuery(text)
	match.SetField("name")
	nameQueries = append(nameQueries, match)

	words := strings.Fields(strings.ToLower(text))
	if len(words) > 0 {
		prefix := bleve.NewPrefixQuery(words[len(words)-1])
		prefix.SetField("name")
		nameQueries = append(nameQueries, prefix)
	}

	q := bleve.NewConjunctionQuery(kindQuery, bleve.NewDisjunctionQuery(nameQueries...))
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)

	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("reference search failed: %w", err)
	}

	out := make([]models.ReferenceItem, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if item, ok := s.names[hit.ID]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *SearchIndex) Close() error {
	return s.index.Close()
}
