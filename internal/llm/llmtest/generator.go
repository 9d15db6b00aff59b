// Package llmtest provides a scripted llm.Generator for tests.
package llmtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/research-agent/backend/internal/llm"
)

// Script is the behaviour of one Stream call.
type Script struct {
	OpenErr error
	Chunks  []llm.Chunk
	// Err is returned after the chunks instead of io.EOF.
	Err error
	// Hang blocks after the chunks until the stream context is done.
	Hang bool
}

type Generator struct {
	mu          sync.Mutex
	scripts     []Script
	completions []Completion
	requests    []llm.GenerateRequest
	closed      int
}

type Completion struct {
	Content string
	Usage   llm.Usage
	Err     error
}

var _ llm.Generator = (*Generator)(nil)

func New(scripts ...Script) *Generator {
	return &Generator{scripts: scripts}
}

// WithCompletions queues results for Complete calls.
func (g *Generator) WithCompletions(c ...Completion) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completions = append(g.completions, c...)
	return g
}

func (g *Generator) Stream(ctx context.Context, req llm.GenerateRequest) (llm.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)
	var s Script
	if len(g.scripts) > 0 {
		s = g.scripts[0]
		g.scripts = g.scripts[1:]
	}
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return &stream{ctx: ctx, script: s, gen: g}, nil
}

func (g *Generator) Complete(ctx context.Context, req llm.GenerateRequest) (*llm.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(g.completions) == 0 {
		return nil, errors.New("llmtest: no completion scripted")
	}
	c := g.completions[0]
	g.completions = g.completions[1:]
	if c.Err != nil {
		return nil, c.Err
	}
	return &llm.Completion{Content: c.Content, Usage: c.Usage}, nil
}

func (g *Generator) Requests() []llm.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.GenerateRequest(nil), g.requests...)
}

// Closed reports how many streams were closed.
func (g *Generator) Closed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

type stream struct {
	ctx    context.Context
	script Script
	pos    int
	gen    *Generator
	once   sync.Once
}

func (s *stream) Recv() (llm.Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return llm.Chunk{}, err
	}
	if s.pos < len(s.script.Chunks) {
		c := s.script.Chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.script.Hang {
		<-s.ctx.Done()
		return llm.Chunk{}, s.ctx.Err()
	}
	if s.script.Err != nil {
		return llm.Chunk{}, s.script.Err
	}
	return llm.Chunk{}, io.EOF
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.gen.mu.Lock()
		s.gen.closed++
		s.gen.mu.Unlock()
	})
	return nil
}

// Text splits text into one chunk per piece and ends with a stop chunk.
func Text(pieces ...string) []llm.Chunk {
	chunks := make([]llm.Chunk, 0, len(pieces)+1)
	for _, p := range pieces {
		chunks = append(chunks, llm.Chunk{TextDelta: p})
	}
	return append(chunks, llm.Chunk{FinishReason: llm.FinishStop})
}
