// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/sassoftware/viya-pdf-ingest/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Processor loads PDF files with bounded concurrency.
type Processor interface {
	Load(ctx context.Context, path string) (*Document, error)
	LoadAll(ctx context.Context, paths []string) ([]Result, error)
	Metadata(ctx context.Context, path string, w io.Writer) error
}

// Result is the outcome of loading one file of a batch.
type Result struct {
	Path string
	Doc  *Document
	Err  error
}

// LoadStrategy decides what a failed document means for its batch.
// Different strategies handle errors differently (strict vs. best-effort).
type LoadStrategy interface {
	HandleFailure(path string, err error) error
}

// StrictLoader enforces strict loading.
// If any document fails, the entire batch fails.
type StrictLoader struct{}

func (s *StrictLoader) HandleFailure(path string, err error) error {
	return fmt.Errorf("strict mode failed on %s: %w", path, err)
}

// BestEffortLoader tolerates errors.
// A failed document is reported in its Result and the batch continues.
type BestEffortLoader struct{}

func (b *BestEffortLoader) HandleFailure(path string, err error) error {
	logger.Debug(fmt.Sprintf("BestEffortLoader: failed to load document, continuing: path=%s err=%v", path, err), true)
	return nil
}

// processor bounds the number of documents loaded at once and delegates
// failure handling to the chosen LoadStrategy.
type processor struct {
	cfg       *Config
	sem       *semaphore.Weighted
	strategy  LoadStrategy
	passwords []string
}

// NewProcessor validates the config and creates a new processor. Every
// document is offered passwords in order after the empty password.
func NewProcessor(cfg *Config, passwords ...string) (*processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.apply()

	var strategy LoadStrategy
	switch cfg.ParsingMode {
	case Strict:
		strategy = &StrictLoader{}
	default:
		strategy = &BestEffortLoader{}
	}

	logger.Debug(fmt.Sprintf("Processor initialized: parsing_mode=%v, max_concurrent_documents=%d, workers=%d",
		cfg.ParsingMode, cfg.MaxConcurrentDocuments, cfg.Workers), true)

	return &processor{
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentDocuments)),
		strategy:  strategy,
		passwords: passwords,
	}, nil
}

// Load loads one document, waiting for a free slot first.
func (p *processor) Load(ctx context.Context, path string) (*Document, error) {
	logger.Debug(fmt.Sprintf("Starting load: path=%s", path), true)

	if err := p.acquireSlot(ctx); err != nil {
		logger.Debug(fmt.Sprintf("Failed to acquire slot: err=%v", err), true)
		return nil, err
	}
	defer p.sem.Release(1)

	doc, err := p.loadWithRetries(ctx, path)
	if err != nil {
		logger.Debug(fmt.Sprintf("Load failed: path=%s err=%v", path, err), true)
		return nil, err
	}
	logger.Debug(fmt.Sprintf("Load completed: path=%s objects=%d", path, doc.Size()), true)
	return doc, nil
}

// LoadAll loads every path concurrently. Results are in path order. Under
// the strict strategy the first failure cancels the documents still
// waiting and is returned.
func (p *processor) LoadAll(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			doc, err := p.Load(gctx, path)
			results[i] = Result{Path: path, Doc: doc, Err: err}
			if err != nil {
				return p.strategy.HandleFailure(path, err)
			}
			return nil
		})
	}
	err := g.Wait()
	logger.Debug(fmt.Sprintf("Batch completed: documents=%d err=%v", len(paths), err), true)
	return results, err
}

func (p *processor) acquireSlot(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	logger.Debug("Slot acquired successfully", true)
	return nil
}

// retryable reports whether a failed load may succeed on another attempt.
// Malformed files fail the same way every time.
func retryable(err error) bool {
	var pathErr *fs.PathError
	return errors.Is(err, context.DeadlineExceeded) || errors.As(err, &pathErr)
}

func (p *processor) loadWithRetries(ctx context.Context, path string) (*Document, error) {
	var doc *Document
	var err error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		ctxDoc, cancel := context.WithTimeout(ctx, p.cfg.LoadTimeout)
		doc, err = p.loadOnce(ctxDoc, path)
		cancel()
		if err == nil || !retryable(err) || ctx.Err() != nil {
			break
		}
		logger.Debug(fmt.Sprintf("Retrying load: attempt=%d err=%v", attempt, err), true)
	}
	return doc, err
}

type loadResult struct {
	doc *Document
	err error
}

// loadOnce reads and loads path, giving up when ctx expires. An abandoned
// load stops at its next phase boundary.
func (p *processor) loadOnce(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	done := make(chan loadResult, 1)
	go func() {
		doc, err := LoadContext(ctx, data, WithConfig(p.cfg), WithPasswordProvider(StaticPasswords(p.passwords...)))
		done <- loadResult{doc, err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load %s: %w", path, ctx.Err())
	case res := <-done:
		return res.doc, res.err
	}
}

// Metadata writes the document metadata of path as JSON to w.
func (p *processor) Metadata(ctx context.Context, path string, w io.Writer) error {
	logger.Debug(fmt.Sprintf("Reading metadata: path=%s", path), true)

	doc, err := p.Load(ctx, path)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load PDF for metadata: %v", err))
		return err
	}
	if err := doc.MetadataJSON(w); err != nil {
		logger.Error(fmt.Sprintf("failed to write metadata: %v", err))
		return err
	}

	logger.Debug(fmt.Sprintf("Metadata extraction completed: path=%s", path), true)
	return nil
}
