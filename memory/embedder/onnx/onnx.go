//go:build onnx

package onnx

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/logging"
	"github.com/becomeliminal/chat-gateway/memory"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// SharedLibraryPath locates libonnxruntime. Empty uses the runtime's
	// default search path.
	SharedLibraryPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxSequenceLength caps tokens per input, including [CLS] and [SEP].
	MaxSequenceLength int
}

// Embedder generates sentence embeddings with ONNX Runtime.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *BERTTokenizer
	dimensions int
	maxLen     int
	mu         sync.Mutex
}

var _ memory.Embedder = (*Embedder)(nil)

var (
	envOnce sync.Once
	envErr  error
)

// New creates an ONNX embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, goerr.New("ModelPath is required", goerr.T(core.TagConfig))
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequenceLength == 0 {
		cfg.MaxSequenceLength = 128
	}

	envOnce.Do(func() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return nil, goerr.Wrap(envErr, "failed to initialize ONNX runtime", goerr.T(core.TagConfig))
	}

	tokenizer, err := loadBERTTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load BERT tokenizer", goerr.V("path", cfg.TokenizerPath), goerr.T(core.TagConfig))
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ONNX session", goerr.V("model", cfg.ModelPath), goerr.T(core.TagConfig))
	}

	logging.Default().Info("onnx embedder ready", "model", cfg.ModelPath, "dimensions", cfg.Dimensions)

	return &Embedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxLen:     cfg.MaxSequenceLength,
	}, nil
}

// Embed converts text to a mean-pooled, unit-length embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := e.tokenizer.Tokenize(text)

	maxLen := e.maxLen
	inputIDs := make([]int64, maxLen)
	attentionMask := make([]int64, maxLen)
	tokenTypeIDs := make([]int64, maxLen)

	inputIDs[0] = int64(e.tokenizer.clsToken)
	attentionMask[0] = 1

	tokenLen := len(tokens)
	if tokenLen > maxLen-2 {
		tokenLen = maxLen - 2
	}
	for i := 0; i < tokenLen; i++ {
		inputIDs[i+1] = tokens[i]
		attentionMask[i+1] = 1
	}

	endPos := tokenLen + 1
	inputIDs[endPos] = int64(e.tokenizer.sepToken)
	attentionMask[endPos] = 1

	shape := ort.NewShape(1, int64(maxLen))
	inputIDsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create input_ids tensor")
	}
	defer inputIDsTensor.Destroy()

	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create attention_mask tensor")
	}
	defer attentionMaskTensor.Destroy()

	tokenTypeIDsTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create token_type_ids tensor")
	}
	defer tokenTypeIDsTensor.Destroy()

	inputs := []ort.Value{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor}
	outputs := []ort.Value{nil}

	e.mu.Lock()
	err = e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, goerr.Wrap(err, "ONNX inference failed")
	}
	defer func() {
		for _, output := range outputs {
			if output != nil {
				output.Destroy()
			}
		}
	}()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok || outputTensor == nil {
		return nil, goerr.New("unexpected output tensor type")
	}

	data := outputTensor.GetData()
	outShape := outputTensor.GetShape()

	var embedding []float32
	switch len(outShape) {
	case 2:
		// Already pooled: [batch, hidden]
		if len(data) < e.dimensions {
			return nil, goerr.New("output dimension mismatch", goerr.V("got", len(data)), goerr.V("want", e.dimensions))
		}
		embedding = make([]float32, e.dimensions)
		copy(embedding, data[:e.dimensions])
	case 3:
		// Mean pooling over attended tokens: [batch, seq, hidden] -> [hidden]
		seqLen, hidden := int(outShape[1]), int(outShape[2])
		if hidden != e.dimensions {
			return nil, goerr.New("hidden size mismatch", goerr.V("got", hidden), goerr.V("want", e.dimensions))
		}
		embedding = make([]float32, hidden)
		var attended float32
		for i := 0; i < seqLen; i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			offset := i * hidden
			for j := 0; j < hidden; j++ {
				embedding[j] += data[offset+j]
			}
		}
		for j := range embedding {
			embedding[j] /= attended
		}
	default:
		return nil, goerr.New("unexpected output shape", goerr.V("shape", outShape))
	}

	return memory.Normalize(embedding), nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *Embedder) Close() error {
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return err
		}
	}
	return nil
}
