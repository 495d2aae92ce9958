package storage

import (
	"math"

	"github.com/autoresearch/autoresearch/pkg/utils"
)

// Okapi BM25 parameters, the usual defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type bm25Doc struct {
	id     string
	text   string
	terms  map[string]int
	length int
}

// BM25Index ranks a small document set against a query. The coordinator
// keeps one over the resident claim graph; the retrieval merger builds
// ephemeral ones over merge candidates; the SQL backend ranks fetched
// candidate rows with it. Scores are quantized and ties break by ascending
// id, so ranking is deterministic for a fixed corpus.
//
// Not safe for concurrent use; owners serialize access.
type BM25Index struct {
	docs  []bm25Doc
	index map[string]int
	df    map[string]int
	total int
}

// NewBM25Index creates an empty index.
func NewBM25Index() *BM25Index {
	return &BM25Index{
		index: make(map[string]int),
		df:    make(map[string]int),
	}
}

// Len returns the number of indexed documents.
func (idx *BM25Index) Len() int {
	return len(idx.docs)
}

// Upsert indexes text under id, replacing any previous text for the id.
func (idx *BM25Index) Upsert(id, text string) {
	if id == "" {
		return
	}
	if _, ok := idx.index[id]; ok {
		idx.Remove(id)
	}

	tokens := utils.Tokenize(text)
	terms := make(map[string]int, len(tokens))
	for _, t := range tokens {
		terms[t]++
	}
	for t := range terms {
		idx.df[t]++
	}

	idx.docs = append(idx.docs, bm25Doc{id: id, text: text, terms: terms, length: len(tokens)})
	idx.index[id] = len(idx.docs) - 1
	idx.total += len(tokens)
}

// Remove drops the document with the given id.
func (idx *BM25Index) Remove(id string) {
	i, ok := idx.index[id]
	if !ok {
		return
	}

	doc := idx.docs[i]
	for t := range doc.terms {
		if idx.df[t] <= 1 {
			delete(idx.df, t)
		} else {
			idx.df[t]--
		}
	}
	idx.total -= doc.length

	last := len(idx.docs) - 1
	if i != last {
		idx.docs[i] = idx.docs[last]
		idx.index[idx.docs[i].id] = i
	}
	idx.docs = idx.docs[:last]
	delete(idx.index, id)
}

// Query returns the top k documents scored against text, highest first.
// Zero-score documents are omitted.
func (idx *BM25Index) Query(text string, k int) []ScoredNode {
	if k <= 0 || len(idx.docs) == 0 {
		return nil
	}

	queryTerms := utils.Tokenize(text)
	if len(queryTerms) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	avgLen := float64(idx.total) / n

	var hits []ScoredNode
	for _, doc := range idx.docs {
		score := 0.0
		for _, t := range queryTerms {
			tf := float64(doc.terms[t])
			if tf == 0 {
				continue
			}
			df := float64(idx.df[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))

			norm := 1 - bm25B + bm25B*float64(doc.length)/avgLen
			score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*norm)
		}
		if score > 0 {
			hits = append(hits, ScoredNode{NodeID: doc.id, Text: doc.text, Score: utils.Quantize(score)})
		}
	}

	sortScoredNodes(hits)

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
