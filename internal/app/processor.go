package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tripph/promptfeed/internal/adapter/metrics"
	"github.com/tripph/promptfeed/internal/domain"
	"github.com/tripph/promptfeed/internal/platform/correlation"
	apperrors "github.com/tripph/promptfeed/internal/platform/errors"
)

const maxPromptBytes = 4096

// Feed is the append side of the feed store.
type Feed interface {
	Append(ctx context.Context, entry domain.FeedEntry) (domain.FeedEntry, error)
	Len() int
}

// Broadcaster delivers a committed entry to live subscribers.
type Broadcaster interface {
	Broadcast(entry domain.FeedEntry)
}

// Processor handles prompt requests end to end.
type Processor struct {
	generator   domain.Generator
	feed        Feed
	broadcaster Broadcaster
	clock       clockwork.Clock
	timeout     time.Duration
	metrics     *metrics.FeedMetrics

	// commitMu makes broadcast order equal append order.
	commitMu sync.Mutex
	inflight sync.WaitGroup
}

// NewProcessor creates a processor. timeout bounds each generator call; m may be nil.
func NewProcessor(generator domain.Generator, feed Feed, broadcaster Broadcaster, clock clockwork.Clock, timeout time.Duration, m *metrics.FeedMetrics) *Processor {
	return &Processor{
		generator:   generator,
		feed:        feed,
		broadcaster: broadcaster,
		clock:       clock,
		timeout:     timeout,
		metrics:     m,
	}
}

// Handle validates req, generates images and commits the resulting entry.
// Only a validation failure is returned as an error; a failed or timed out
// generation still produces an entry, with no images. Entries are committed
// in the order their generations finish.
func (p *Processor) Handle(ctx context.Context, req domain.PromptRequest) (domain.FeedEntry, error) {
	ctx, _ = correlation.WithNewID(ctx)

	prompt, err := validate(req)
	if err != nil {
		return domain.FeedEntry{}, err
	}

	p.inflight.Add(1)
	defer p.inflight.Done()

	entry := domain.FeedEntry{
		Prompt:    prompt,
		Timestamp: domain.FormatTimestamp(p.clock.Now()),
	}
	if req.Username != nil {
		entry.Username = *req.Username
	}

	// the result is committed even if the submitter goes away
	ctx = context.WithoutCancel(ctx)

	slog.InfoContext(ctx, "Prompt received", "username", entry.Username, "prompt_length", len(prompt))
	entry.Images = p.generate(ctx, prompt)

	return p.commit(ctx, entry), nil
}

func validate(req domain.PromptRequest) (string, error) {
	if req.Prompt == nil || strings.TrimSpace(*req.Prompt) == "" {
		return "", apperrors.ValidationError("prompt is required").WithField("field", "prompt")
	}
	if len(*req.Prompt) > maxPromptBytes {
		return "", apperrors.ValidationError("prompt is too long").WithField("max_bytes", maxPromptBytes)
	}
	return *req.Prompt, nil
}

// generate never returns nil, so failed entries serialize as an empty list.
func (p *Processor) generate(ctx context.Context, prompt string) []string {
	genCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.clock.Now()
	resp, err := p.generator.Generate(genCtx, domain.GenerateRequest{Prompt: prompt})
	elapsed := p.clock.Since(start)

	if err != nil {
		slog.WarnContext(ctx, "Generation failed", "error", err, "duration", elapsed)
		return []string{}
	}
	if resp == nil || len(resp.Images) == 0 {
		slog.WarnContext(ctx, "Generation returned no images", "duration", elapsed)
		return []string{}
	}

	slog.InfoContext(ctx, "Generation completed", "images", len(resp.Images), "version", resp.Version, "duration", elapsed)
	return resp.Images
}

func (p *Processor) commit(ctx context.Context, entry domain.FeedEntry) domain.FeedEntry {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	stored, err := p.feed.Append(ctx, entry)
	if err != nil {
		// the entry is in the feed; only its durable copy is missing
		slog.ErrorContext(ctx, "Failed to persist feed", "seq", stored.Seq, "error", err)
	}

	p.broadcaster.Broadcast(stored)

	if p.metrics != nil {
		result := "success"
		if !stored.Succeeded() {
			result = "failure"
		}
		p.metrics.EntriesAppended.WithLabelValues(result).Inc()
		p.metrics.Entries.Set(float64(p.feed.Len()))
	}
	slog.InfoContext(ctx, "Feed entry committed", "seq", stored.Seq, "images", len(stored.Images))
	return stored
}

// Drain waits until every in-flight Handle has committed or ctx is done.
func (p *Processor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DecodeRequest parses one prompt frame. Unknown fields and trailing data
// are rejected.
func DecodeRequest(data []byte) (domain.PromptRequest, error) {
	var req domain.PromptRequest

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return domain.PromptRequest{}, apperrors.ValidationError("malformed prompt request").
			WithField("reason", err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.PromptRequest{}, apperrors.ValidationError("malformed prompt request").
			WithField("reason", "trailing data after JSON object")
	}
	return req, nil
}
