package embedding

import (
	"os"
	"path/filepath"
	"testing"
)

func TestONNXConfig_prepare(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(model, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		cfg     ONNXConfig
		wantErr bool
	}{
		{"no model path", ONNXConfig{Dimensions: 4}, true},
		{"missing model", ONNXConfig{ModelPath: filepath.Join(dir, "none.onnx"), Dimensions: 4}, true},
		{"no dimensions", ONNXConfig{ModelPath: model}, true},
		{"missing vocab", ONNXConfig{ModelPath: model, Dimensions: 4, VocabPath: filepath.Join(dir, "vocab.txt")}, true},
		{"hash tokenizer", ONNXConfig{ModelPath: model, Dimensions: 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, maxTokens, err := tt.cfg.prepare()
			if (err != nil) != tt.wantErr {
				t.Fatalf("prepare() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if _, ok := tok.(*HashTokenizer); !ok {
				t.Errorf("tokenizer = %T", tok)
			}
			if maxTokens != defaultMaxTokens {
				t.Errorf("maxTokens = %d", maxTokens)
			}
		})
	}
}
