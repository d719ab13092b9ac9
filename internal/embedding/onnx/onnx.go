// Package onnx runs a pretrained sentence-transformer export
// (all-MiniLM-L6-v2) through ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"glucosense/internal/embedding"
)

// Config locates the model files.
type Config struct {
	ModelPath   string
	VocabPath   string
	LibraryPath string
	Dimension   int
	MaxLength   int
}

var (
	envOnce sync.Once
	envErr  error
)

// Embedder mean-pools the encoder's last hidden state over attended tokens.
type Embedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *Tokenizer
	dimension int
}

// New loads the tokenizer vocabulary and the ONNX session.
func New(cfg Config) (*Embedder, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 384
	}
	vocab, err := LoadVocab(cfg.VocabPath)
	if err != nil {
		return nil, err
	}
	tok, err := NewTokenizer(vocab, cfg.MaxLength)
	if err != nil {
		return nil, err
	}

	envOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", envErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"}, options)
	if err != nil {
		return nil, fmt.Errorf("load onnx model %s: %w", cfg.ModelPath, err)
	}
	return &Embedder{session: session, tokenizer: tok, dimension: cfg.Dimension}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "onnx" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed encodes text and returns the unit-norm sentence vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc := e.tokenizer.Encode(text)
	seq := int64(len(enc.InputIDs))
	shape := ort.NewShape(1, seq)

	ids, err := ort.NewTensor(shape, enc.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer ids.Destroy()
	mask, err := ort.NewTensor(shape, enc.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer mask.Destroy()
	types, err := ort.NewTensor(shape, enc.TokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer types.Destroy()

	hidden, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seq, int64(e.dimension)))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer hidden.Destroy()

	if err := e.session.Run([]ort.Value{ids, mask, types}, []ort.Value{hidden}); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	return embedding.Normalize(meanPool(hidden.GetData(), enc.AttentionMask, e.dimension)), nil
}

// Close releases the runtime session.
func (e *Embedder) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

func meanPool(hidden []float32, mask []int64, dim int) []float64 {
	out := make([]float64, dim)
	count := 0.0
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for j, v := range row {
			out[j] += float64(v)
		}
		count++
	}
	if count > 0 {
		for j := range out {
			out[j] /= count
		}
	}
	return out
}
