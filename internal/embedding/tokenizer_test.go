package embedding

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestHashTokenizer_Tokenize(t *testing.T) {
	tok := &HashTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths = %d/%d/%d", len(ids), len(attn), len(types))
	}
	if ids[0] != tokenCLS || ids[3] != tokenSEP {
		t.Errorf("ids = %v", ids)
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention = %v", attn)
	}
	again, _, _ := tok.Tokenize("Hello World", 10)
	if !reflect.DeepEqual(ids, again) {
		t.Error("tokenization should be case-insensitive and deterministic")
	}
}

func TestHashTokenizer_truncates(t *testing.T) {
	ids, attn, _ := (&HashTokenizer{}).Tokenize("a b c d e f g", 4)
	if len(ids) != 4 || ids[3] != tokenSEP || attn[3] != 1 {
		t.Errorf("ids = %v attention = %v", ids, attn)
	}
}

func TestWordPieceTokenizer(t *testing.T) {
	vocab := []string{"[PAD]"}
	for len(vocab) < 100 {
		vocab = append(vocab, "[unused]")
	}
	vocab = append(vocab, "[UNK]", "[CLS]", "[SEP]", "aspirin", "dose", "##s", ".", "un", "##related")
	path := filepath.Join(t.TempDir(), "vocab.txt")
	data := ""
	for _, v := range vocab {
		data += v + "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	tok, err := LoadWordPieceTokenizer(path)
	if err != nil {
		t.Fatal(err)
	}
	ids, _, _ := tok.Tokenize("Aspirin doses. Unrelated xyz", 12)
	want := []int64{101, 103, 104, 105, 106, 107, 108, 100, 102, 0, 0, 0}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

func TestLoadWordPieceTokenizer_missingFile(t *testing.T) {
	if _, err := LoadWordPieceTokenizer(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing vocab")
	}
}

func TestSplitWords(t *testing.T) {
	got := splitWords("  Dose: 5mg,  daily ")
	want := []string{"dose", ":", "5mg", ",", "daily"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitWords = %v, want %v", got, want)
	}
	if splitWords("") != nil {
		t.Error("empty string should return nil")
	}
}
