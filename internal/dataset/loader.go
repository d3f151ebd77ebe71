package dataset

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Batch is a minibatch of stacked samples.
type Batch struct {
	Inputs  *mat.Dense
	Targets *mat.Dense
	Keys    []string
}

// Size is the number of rows in the batch.
func (b Batch) Size() int {
	return len(b.Keys)
}

// Loader groups a dataset into batches, optionally through a Sampler.
//
// Batches are assembled by NumWorkers goroutines and re-ordered before
// delivery, so iteration order depends only on the sampler and the epoch.
type Loader struct {
	Dataset    Dataset
	Sampler    Sampler
	BatchSize  int
	NumWorkers int

	epoch int
}

// SetEpoch selects the epoch passed to the sampler.
func (l *Loader) SetEpoch(epoch int) { l.epoch = epoch }

// NumSamples is the sampler length when a sampler is set, else the dataset length.
func (l *Loader) NumSamples() int {
	if l.Sampler != nil {
		return l.Sampler.Len()
	}
	return l.Dataset.Len()
}

// NumBatches counts batches per iteration; the last one may be short.
func (l *Loader) NumBatches() int {
	if l.BatchSize <= 0 {
		return 0
	}
	return (l.NumSamples() + l.BatchSize - 1) / l.BatchSize
}

func (l *Loader) indices() []int {
	if l.Sampler != nil {
		return l.Sampler.Indices(l.epoch)
	}
	return NewSequential(l.Dataset.Len()).Indices(l.epoch)
}

type batchJob struct {
	id      int
	indices []int
}

type batchResult struct {
	id    int
	batch Batch
	err   error
}

// Batches streams every batch once. The error channel yields at most one
// error and is closed after the batch channel. Cancel ctx to stop early.
func (l *Loader) Batches(ctx context.Context) (<-chan Batch, <-chan error) {
	out := make(chan Batch, 1)
	errCh := make(chan error, 1)

	if l.BatchSize <= 0 {
		errCh <- errors.New("loader: batch size must be > 0")
		close(out)
		close(errCh)
		return out, errCh
	}
	workers := l.NumWorkers
	if workers <= 0 {
		workers = 1
	}

	idx := l.indices()
	jobs := make(chan batchJob, workers)
	results := make(chan batchResult, workers)
	total := (len(idx) + l.BatchSize - 1) / l.BatchSize

	go func() {
		defer close(jobs)
		for id := 0; id < total; id++ {
			lo := id * l.BatchSize
			hi := min(lo+l.BatchSize, len(idx))
			select {
			case <-ctx.Done():
				return
			case jobs <- batchJob{id: id, indices: idx[lo:hi]}:
			}
		}
	}()

	done := make(chan struct{})
	for w := 0; w < workers; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for job := range jobs {
				b, err := l.assemble(job.indices)
				select {
				case <-ctx.Done():
					return
				case results <- batchResult{id: job.id, batch: b, err: err}:
				}
			}
		}()
	}
	go func() {
		for w := 0; w < workers; w++ {
			<-done
		}
		close(results)
	}()

	go func() {
		defer close(errCh)
		defer close(out)
		reorder(ctx, results, out, errCh, total)
	}()

	return out, errCh
}

// reorder releases results strictly by id, holding early arrivals back.
func reorder(ctx context.Context, results <-chan batchResult, out chan<- Batch, errCh chan<- error, total int) {
	pending := make(map[int]batchResult)
	next := 0
	for next < total {
		res, ok := pending[next]
		if !ok {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case r, open := <-results:
				if !open {
					if err := ctx.Err(); err != nil {
						errCh <- err
						return
					}
					errCh <- fmt.Errorf("loader: workers stopped after %d of %d batches", next, total)
					return
				}
				pending[r.id] = r
			}
			continue
		}
		delete(pending, next)
		if res.err != nil {
			errCh <- res.err
			return
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		case out <- res.batch:
		}
		next++
	}
}

func (l *Loader) assemble(indices []int) (Batch, error) {
	inputs, outputs := l.Dataset.Dims()
	x := mat.NewDense(len(indices), inputs, nil)
	y := mat.NewDense(len(indices), outputs, nil)
	keys := make([]string, len(indices))
	for row, i := range indices {
		s, err := l.Dataset.Sample(i)
		if err != nil {
			return Batch{}, err
		}
		copy(x.RawRowView(row), s.Image)
		copy(y.RawRowView(row), s.Target)
		keys[row] = s.Key
	}
	return Batch{Inputs: x, Targets: y, Keys: keys}, nil
}
