// Package onnx embeds text locally with all-MiniLM-L6-v2 on ONNX Runtime.
// The embedder itself requires the "onnx" build tag.
package onnx

import (
	"encoding/json"
	"os"
	"strings"
)

// BERTTokenizer performs lower-cased WordPiece tokenization against a
// HuggingFace tokenizer.json vocabulary.
type BERTTokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
}

// NewBERTTokenizer builds a tokenizer from a vocabulary. Special tokens
// missing from vocab fall back to the standard BERT IDs.
func NewBERTTokenizer(vocab map[string]int) *BERTTokenizer {
	special := func(tok string, fallback int) int {
		if id, ok := vocab[tok]; ok {
			return id
		}
		return fallback
	}
	return &BERTTokenizer{
		vocab:    vocab,
		clsToken: special("[CLS]", 101),
		sepToken: special("[SEP]", 102),
		unkToken: special("[UNK]", 100),
	}
}

func loadBERTTokenizer(path string) (*BERTTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tokenizerData struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizerData); err != nil {
		return nil, err
	}

	return NewBERTTokenizer(tokenizerData.Model.Vocab), nil
}

// Tokenize converts text to token IDs, excluding [CLS] and [SEP].
func (t *BERTTokenizer) Tokenize(text string) []int64 {
	var tokens []int64

	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}

		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}

		for _, piece := range t.wordPieces(word) {
			if id, ok := t.vocab[piece]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}

	return tokens
}

// wordPieces splits word greedily into the longest vocabulary prefixes,
// marking continuations with "##".
func (t *BERTTokenizer) wordPieces(word string) []string {
	var pieces []string
	start := 0

	for start < len(word) {
		end := len(word)
		found := false

		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab[sub]; ok {
				pieces = append(pieces, sub)
				start = end
				found = true
				break
			}
			end--
		}

		if !found {
			pieces = append(pieces, "[UNK]")
			start++
		}
	}

	return pieces
}
