package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type (
	// ProcessMode selects how an item collection is fed to a per-item
	// function, and what raw value a node receives as its current item
	ProcessMode string

	// ItemConfig tunes item processing. Zero values take defaults: batch
	// size 100, continue on error
	ItemConfig struct {
		Mode            ProcessMode `json:"mode"`
		BatchSize       int         `json:"batchSize"`
		ContinueOnError *bool       `json:"continueOnError,omitempty"`
	}

	// ItemFunc processes one item at its index in the collection
	ItemFunc func(ctx context.Context, item any, index int) (any, error)

	// ItemResult reports the outcome of processing a collection
	ItemResult struct {
		Success        bool        `json:"success"`
		Results        []any       `json:"results"`
		Errors         []ItemError `json:"errors,omitempty"`
		ProcessedCount int         `json:"processedCount"`
		FailedCount    int         `json:"failedCount"`
	}

	// ItemError records a per-item failure
	ItemError struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	}
)

const (
	// ProcessFirst processes only the first item
	ProcessFirst ProcessMode = "first"

	// ProcessEach processes items sequentially
	ProcessEach ProcessMode = "each"

	// ProcessBatch processes items in sequential batches; items within one
	// batch run concurrently
	ProcessBatch ProcessMode = "batch"

	// ProcessAll hands the whole collection to the function as one unit
	ProcessAll ProcessMode = "all"
)

const defaultBatchSize = 100

var ErrItemProcessing = errors.New("item processing aborted")

// ProcessItems applies the configured processing mode to a collection,
// invoking fn per item (or once for the whole collection in all mode)
func ProcessItems(
	ctx context.Context, items []any, fn ItemFunc, cfg *ItemConfig,
) (*ItemResult, error) {
	if cfg == nil {
		cfg = &ItemConfig{}
	}

	switch cfg.Mode {
	case ProcessEach:
		return processEach(ctx, items, fn, cfg.continueOnError())
	case ProcessBatch:
		return processBatch(ctx, items, fn, cfg)
	case ProcessAll:
		return processAll(ctx, items, fn)
	default:
		return processFirst(ctx, items, fn)
	}
}

// DataForMode selects the raw value a node receives as its current item:
// the whole collection in all mode, otherwise the first item
func DataForMode(items []any, mode ProcessMode) any {
	if mode == ProcessAll {
		return items
	}
	if len(items) == 0 {
		return map[string]any{}
	}
	return items[0]
}

// Chunk splits items into consecutive chunks of at most size elements
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func (c *ItemConfig) continueOnError() bool {
	if c.ContinueOnError == nil {
		return true
	}
	return *c.ContinueOnError
}

func (c *ItemConfig) batchSize() int {
	if c.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.BatchSize
}

func processFirst(
	ctx context.Context, items []any, fn ItemFunc,
) (*ItemResult, error) {
	if len(items) == 0 {
		return &ItemResult{Success: true, Results: []any{}}, nil
	}

	result, err := fn(ctx, items[0], 0)
	if err != nil {
		return &ItemResult{
			Results:     []any{},
			Errors:      []ItemError{{Index: 0, Error: err.Error()}},
			FailedCount: 1,
		}, nil
	}
	return &ItemResult{
		Success:        true,
		Results:        []any{result},
		ProcessedCount: 1,
	}, nil
}

func processEach(
	ctx context.Context, items []any, fn ItemFunc, continueOnError bool,
) (*ItemResult, error) {
	res := &ItemResult{Results: []any{}}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := fn(ctx, item, i)
		if err != nil {
			if !continueOnError {
				return nil, fmt.Errorf(
					"%w: %d items succeeded before failure at index %d: %w",
					ErrItemProcessing, res.ProcessedCount, i, err,
				)
			}
			res.Errors = append(res.Errors, ItemError{
				Index: i,
				Error: err.Error(),
			})
			res.FailedCount++
			continue
		}
		res.Results = append(res.Results, value)
		res.ProcessedCount++
	}

	res.Success = res.FailedCount == 0
	return res, nil
}

func processBatch(
	ctx context.Context, items []any, fn ItemFunc, cfg *ItemConfig,
) (*ItemResult, error) {
	res := &ItemResult{Results: []any{}}
	continueOnError := cfg.continueOnError()

	for _, batch := range Chunk(items, cfg.batchSize()) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcomes := runBatch(ctx, batch, res.ProcessedCount+res.FailedCount, fn)
		for _, out := range outcomes {
			if out.err != nil {
				res.Errors = append(res.Errors, ItemError{
					Index: out.index,
					Error: out.err.Error(),
				})
				res.FailedCount++
				continue
			}
			res.Results = append(res.Results, out.value)
			res.ProcessedCount++
		}

		if res.FailedCount > 0 && !continueOnError {
			return nil, fmt.Errorf(
				"%w: %d items succeeded before batch failure",
				ErrItemProcessing, res.ProcessedCount,
			)
		}
	}

	res.Success = res.FailedCount == 0
	return res, nil
}

type batchOutcome struct {
	index int
	value any
	err   error
}

// runBatch fans a batch out across goroutines and awaits them all before
// the next batch starts. A failing item does not stop its siblings
func runBatch(
	ctx context.Context, batch []any, offset int, fn ItemFunc,
) []batchOutcome {
	outcomes := make([]batchOutcome, len(batch))

	var wg sync.WaitGroup
	for i, item := range batch {
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			index := offset + i
			value, err := fn(ctx, item, index)
			outcomes[i] = batchOutcome{index: index, value: value, err: err}
		}(i, item)
	}
	wg.Wait()

	return outcomes
}

func processAll(
	ctx context.Context, items []any, fn ItemFunc,
) (*ItemResult, error) {
	result, err := fn(ctx, items, 0)
	if err != nil {
		return &ItemResult{
			Results:     []any{},
			Errors:      []ItemError{{Index: 0, Error: err.Error()}},
			FailedCount: 1,
		}, nil
	}

	results, ok := result.([]any)
	if !ok {
		results = []any{result}
	}
	return &ItemResult{
		Success:        true,
		Results:        results,
		ProcessedCount: len(items),
	}, nil
}
