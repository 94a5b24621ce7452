// Package reconcile classifies a page of upstream records against the local
// store and applies the minimal writes: insert new keys, update changed
// ones, skip the rest. One bad record never fails the page.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/convivencia/phidiasync/internal/server/models"
)

// Adapter binds the reconciler to one entity type.
type Adapter[T any] interface {
	// Decode parses and validates one upstream record.
	Decode(raw json.RawMessage) (T, error)
	// Key is the stable external identity of a record.
	Key(rec T) string
	// Snapshot loads the local rows for keys. Missing keys are absent.
	Snapshot(ctx context.Context, keys []string) (map[string]T, error)
	// Diff merges remote onto local, keeping local-only fields, and reports
	// whether any upstream-owned field changed.
	Diff(local, remote T) (merged T, changed bool)
	Insert(ctx context.Context, rec T) error
	Update(ctx context.Context, rec T) error
}

// Result is the outcome of one page.
type Result struct {
	Counts models.Counts
	// Errors holds one message per failed record, in page order.
	Errors []string
}

type outcome int

const (
	skipped outcome = iota
	created
	updated
	unchanged
	failed
)

type recordResult struct {
	outcome outcome
	key     string
	err     error
}

// Reconciler applies pages for one entity type. Records with distinct keys
// are written in parallel; records sharing a key are applied in page order.
type Reconciler[T any] struct {
	adapter Adapter[T]
	workers int
}

func New[T any](adapter Adapter[T], workers int) *Reconciler[T] {
	if workers < 1 {
		workers = 1
	}
	return &Reconciler[T]{adapter: adapter, workers: workers}
}

// Reconcile processes one page. It returns an error only when the local
// snapshot cannot be read or ctx is cancelled; in the latter case records
// already written are reflected in the partial result.
func (r *Reconciler[T]) Reconcile(ctx context.Context, page []json.RawMessage) (Result, error) {
	results := make([]recordResult, len(page))
	decoded := make([]T, len(page))

	groups := make(map[string][]int)
	var keys []string

	for i, raw := range page {
		rec, err := r.adapter.Decode(raw)
		if err != nil {
			results[i] = recordResult{outcome: failed, err: err}
			continue
		}
		key := r.adapter.Key(rec)
		decoded[i] = rec
		results[i].key = key
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}

	var local map[string]T
	if len(keys) > 0 {
		var err error
		local, err = r.adapter.Snapshot(ctx, keys)
		if err != nil {
			return Result{}, fmt.Errorf("load local snapshot: %w", err)
		}
	}

	// Writes run detached from cancellation so none is cut short; ctx is
	// only checked between records.
	writeCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(r.workers)

	for _, key := range keys {
		indexes := groups[key]
		current, exists := local[key]

		g.Go(func() error {
			for _, i := range indexes {
				if ctx.Err() != nil {
					return nil
				}
				remote := decoded[i]

				if !exists {
					if err := r.adapter.Insert(writeCtx, remote); err != nil {
						results[i].outcome, results[i].err = failed, err
						continue
					}
					results[i].outcome = created
					current, exists = remote, true
					continue
				}

				merged, changed := r.adapter.Diff(current, remote)
				if !changed {
					results[i].outcome = unchanged
					continue
				}
				if err := r.adapter.Update(writeCtx, merged); err != nil {
					results[i].outcome, results[i].err = failed, err
					continue
				}
				results[i].outcome = updated
				current = merged
			}
			return nil
		})
	}
	_ = g.Wait()

	res := summarize(results)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func summarize(results []recordResult) Result {
	var res Result
	for i, rr := range results {
		switch rr.outcome {
		case skipped:
			continue
		case created:
			res.Counts.Created++
		case updated:
			res.Counts.Updated++
		case unchanged:
			res.Counts.Unchanged++
		case failed:
			res.Counts.Failed++
			res.Errors = append(res.Errors, describe(i, rr))
		}
		res.Counts.Processed++
	}
	return res
}

func describe(i int, rr recordResult) string {
	if rr.key == "" {
		return fmt.Sprintf("record %d: %v", i+1, rr.err)
	}
	return fmt.Sprintf("record %d (%s): %v", i+1, rr.key, rr.err)
}
