// Package tabular answers questions about an uploaded CSV file.
//
// The file is parsed once on upload and summarized. Questions that only ask
// what the data looks like are answered from the summary directly; anything
// else is sent to a generator together with the summary.
package tabular

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/llm"
	"github.com/becomeliminal/chat-gateway/logging"
)

const (
	// DefaultTimeout bounds a single analysis.
	DefaultTimeout = 60 * time.Second

	// NoData is the reply when nothing has been loaded.
	NoData = "No DataFrame loaded. Please upload a CSV file first."

	analysisTemperature = 0.1
)

var describePattern = regexp.MustCompile(`(?i)(describe|summarize|tell me about|what's in|show me|explain) (the|this) (data|dataset|table|dataframe)`)

const analysisPrompt = `You are a data analysis assistant. You are given an overview of a dataset that has already been loaded.
Answer the user's question using only the dataset details below. Quote exact figures from the details
where they answer the question, and say clearly when the details are not enough to answer it.

THE DATASET DETAILS:
%s

USER QUESTION:
%s
`

// Agent holds one session's dataset.
type Agent struct {
	gen     llm.Generator
	timeout time.Duration

	mu   sync.RWMutex
	data *Dataset
}

// Option configures an Agent.
type Option func(*Agent)

// WithTimeout bounds each analysis.
func WithTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAgent creates an agent that answers with gen.
func NewAgent(gen llm.Generator, opts ...Option) *Agent {
	a := &Agent{gen: gen, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load parses a CSV upload and replaces any previously loaded dataset.
func (a *Agent) Load(ctx context.Context, data []byte, filename string) error {
	ds, err := ParseCSV(data, filename)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.data = ds
	a.mu.Unlock()

	rows, cols := ds.Shape()
	logging.From(ctx).Info("loaded dataset", "filename", filename, "rows", rows, "columns", cols)
	return nil
}

// Dataset returns the loaded dataset, or nil.
func (a *Agent) Dataset() *Dataset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.data
}

// Analyze answers question about the loaded dataset.
func (a *Agent) Analyze(ctx context.Context, question string, cb llm.StreamFunc) (string, error) {
	ds := a.Dataset()
	if ds == nil {
		llm.Emit(cb, NoData, false)
		llm.Emit(cb, "", true)
		return NoData, nil
	}

	if describePattern.MatchString(question) {
		overview := ds.Overview()
		llm.Emit(cb, overview, false)
		llm.Emit(cb, "", true)
		return overview, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	answer, err := a.gen.Stream(ctx, llm.Request{
		Prompt:      fmt.Sprintf(analysisPrompt, ds.Details(), question),
		Temperature: llm.Temperature(analysisTemperature),
	}, cb)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logging.From(ctx).Warn("analysis timed out", "question", logging.Truncate(question, 100))
			return answer, goerr.Wrap(err, TimeoutMessage(a.timeout), goerr.T(core.TagTimeout))
		}
		return answer, goerr.Wrap(err, "failed to analyze dataset")
	}
	return answer, nil
}

// TimeoutMessage is the user-facing reply for an analysis that ran longer
// than d.
func TimeoutMessage(d time.Duration) string {
	return fmt.Sprintf("Analysis timed out after %d seconds. Please try a simpler query or increase the timeout limit.", int(d.Seconds()))
}
