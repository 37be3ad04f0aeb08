package kg

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// tokenize 英文按单词、中文按单字与相邻二元组切分
func tokenize(s string) []string {
	var tokens []string
	var word []rune
	var han []rune
	flushWord := func() {
		if len(word) > 0 {
			tokens = append(tokens, strings.ToLower(string(word)))
			word = word[:0]
		}
	}
	flushHan := func() {
		for i := range han {
			tokens = append(tokens, string(han[i]))
			if i+1 < len(han) {
				tokens = append(tokens, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			flushHan()
			word = append(word, r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return tokens
}

type tfidfIndex struct {
	vectors []map[string]float64
	idf     map[string]float64
}

type tfidfHit struct {
	idx   int
	score float64
}

func newTFIDFIndex(docs []string) *tfidfIndex {
	df := map[string]int{}
	tfs := make([]map[string]float64, len(docs))
	for i, d := range docs {
		tf := map[string]float64{}
		for _, tok := range tokenize(d) {
			tf[tok]++
		}
		for tok := range tf {
			df[tok]++
		}
		tfs[i] = tf
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for tok, c := range df {
		idf[tok] = math.Log((1+n)/(1+float64(c))) + 1
	}
	idx := &tfidfIndex{idf: idf, vectors: make([]map[string]float64, len(docs))}
	for i, tf := range tfs {
		idx.vectors[i] = normalize(weight(tf, idf))
	}
	return idx
}

func weight(tf map[string]float64, idf map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(tf))
	for tok, c := range tf {
		if w, ok := idf[tok]; ok {
			out[tok] = (1 + math.Log(c)) * w
		}
	}
	return out
}

func normalize(v map[string]float64) map[string]float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for k := range v {
		v[k] /= norm
	}
	return v
}

func (ix *tfidfIndex) topK(query string, k int) []tfidfHit {
	tf := map[string]float64{}
	for _, tok := range tokenize(query) {
		tf[tok]++
	}
	q := normalize(weight(tf, ix.idf))
	if len(q) == 0 {
		return nil
	}
	var hits []tfidfHit
	for i, v := range ix.vectors {
		var dot float64
		for tok, w := range q {
			dot += w * v[tok]
		}
		if dot > 0 {
			hits = append(hits, tfidfHit{idx: i, score: dot})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
