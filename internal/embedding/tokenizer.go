package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// BERT special token IDs shared by the uncased vocabularies.
const (
	tokenPAD = 0
	tokenUNK = 100
	tokenCLS = 101
	tokenSEP = 102
)

const defaultMaxTokens = 256

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps lowercased words to hashed token IDs. It needs no vocabulary
// file and is used when none is configured.
type HashTokenizer struct{}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	words := splitWords(text)
	ids := make([]int64, 0, len(words))
	for _, w := range words {
		ids = append(ids, int64(1000+tokenHashString(w)%29000))
	}
	return frame(ids, maxTokens)
}

// WordPieceTokenizer implements greedy longest-match WordPiece over a BERT vocab.txt.
type WordPieceTokenizer struct {
	vocab map[string]int64
}

// LoadWordPieceTokenizer reads a vocabulary file with one token per line; the line
// number is the token ID.
func LoadWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()
	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var id int64
	for sc.Scan() {
		tok := strings.TrimRight(sc.Text(), "\r")
		if tok != "" {
			vocab[tok] = id
		}
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab %s is empty", path)
	}
	return &WordPieceTokenizer{vocab: vocab}, nil
}

// Tokenize lowercases text, splits punctuation, and encodes each word as word pieces.
func (t *WordPieceTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	var ids []int64
	for _, w := range splitWords(text) {
		ids = append(ids, t.pieces(w)...)
	}
	return frame(ids, maxTokens)
}

func (t *WordPieceTokenizer) pieces(word string) []int64 {
	runes := []rune(word)
	var out []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := false
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				out = append(out, id)
				found = true
				break
			}
			end--
		}
		if !found {
			return []int64{t.unknown()}
		}
		start = end
	}
	return out
}

func (t *WordPieceTokenizer) unknown() int64 {
	if id, ok := t.vocab["[UNK]"]; ok {
		return id
	}
	return tokenUNK
}

// frame wraps ids in [CLS] ... [SEP] and pads or truncates to maxTokens.
func frame(ids []int64, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = defaultMaxTokens
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1
	for _, id := range ids {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = id
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	for i := pos + 1; i < maxTokens; i++ {
		inputIDs[i] = tokenPAD
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// splitWords lowercases text and splits it on whitespace, emitting each punctuation
// rune as its own word.
func splitWords(text string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return words
}

func tokenHashString(s string) int {
	var h uint32
	for _, c := range s {
		h = 31*h + uint32(c)
	}
	return int(h)
}
