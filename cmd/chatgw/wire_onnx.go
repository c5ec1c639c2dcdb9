//go:build onnx

package main

import (
	"github.com/becomeliminal/chat-gateway/config"
	"github.com/becomeliminal/chat-gateway/memory"
	"github.com/becomeliminal/chat-gateway/memory/embedder/onnx"
)

func newONNXEmbedder(cfg *config.Config) (memory.Embedder, func(), error) {
	e, err := onnx.New(onnx.Config{
		ModelPath:         cfg.Embedder.ONNXModelPath,
		TokenizerPath:     cfg.Embedder.ONNXTokenizerPath,
		SharedLibraryPath: cfg.Embedder.ONNXLibraryPath,
		Dimensions:        cfg.Embedder.Dimensions,
	})
	if err != nil {
		return nil, nil, err
	}
	return e, func() { e.Close() }, nil
}
