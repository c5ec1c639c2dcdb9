//go:build !onnx

package main

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/config"
	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/memory"
)

func newONNXEmbedder(cfg *config.Config) (memory.Embedder, func(), error) {
	return nil, nil, goerr.New("onnx embedder not compiled in, rebuild with -tags onnx", goerr.T(core.TagConfig))
}
