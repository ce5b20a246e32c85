package normalizer

import (
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Search engines keep an inverted index that maps every normalized term
        to the documents containing it, with term frequencies and positions.
        Queries are normalized with the same pipeline so that stemmed and
        lemmatized forms meet in the middle.`,
	"long": strings.Repeat(`Information retrieval systems combine segmentation, stemming and
        lemmatization to normalize text into searchable terms. BM25 ranking
        considers term frequency, document length and inverse document
        frequency to produce relevance scores. `, 20),
}

func BenchmarkNormalize(b *testing.B) {
	n := Default()
	if err := n.EnsureInitialized(); err != nil {
		b.Fatal(err)
	}
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				n.Normalize(text)
			}
		})
	}
}

func BenchmarkNormalizeParallel(b *testing.B) {
	n := Default()
	if err := n.EnsureInitialized(); err != nil {
		b.Fatal(err)
	}
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			n.Normalize(text)
		}
	})
}
