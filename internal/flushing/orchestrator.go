/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements. See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package flushing

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/rhodium-data/target-redshift/internal/logging"
	"github.com/rhodium-data/target-redshift/internal/staging"
	"github.com/rhodium-data/target-redshift/internal/streams"
	"github.com/rhodium-data/target-redshift/spi/warehouse"
)

// FlushTask is one sealed batch with the table snapshot it was staged for.
type FlushTask struct {
	Stream   *streams.Stream
	Batch    *staging.Batch
	Snapshot warehouse.TableSpecSnapshot
}

// Metrics receives flush observations; the stats reporter implements it.
type Metrics interface {
	RowsLoaded(stream string, rows int64)
	FlushObserved(stream string, duration time.Duration)
}

// Orchestrator runs flushes on a bounded worker pool. Flushes of distinct
// streams run concurrently, flushes of one stream are chained in submission
// order, and state checkpoints are only emitted once every flush submitted
// before them has succeeded.
type Orchestrator struct {
	logger  *logging.Logger
	syncer  warehouse.Syncer
	metrics Metrics

	// limit is re-evaluated per submission so parallelism 0 follows the
	// number of active streams
	limit func() int

	mutex    sync.Mutex
	cond     *sync.Cond
	inFlight int

	nextSequence     int64
	completedThrough int64
	doneSequences    map[int64]bool
	pendingStates    []gatedState

	failure error

	out      io.Writer
	outMutex sync.Mutex

	wg sync.WaitGroup
}

type gatedState struct {
	sequence int64
	payload  []byte
}

func NewOrchestrator(
	syncer warehouse.Syncer, limit func() int, out io.Writer, metrics Metrics,
) (*Orchestrator, error) {

	logger, err := logging.NewLogger("FlushOrchestrator")
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		logger:        logger,
		syncer:        syncer,
		metrics:       metrics,
		limit:         limit,
		out:           out,
		doneSequences: make(map[int64]bool),
	}
	o.cond = sync.NewCond(&o.mutex)
	return o, nil
}

// Submit schedules one flush. It blocks while the worker pool is saturated,
// which is the loop's backpressure. Returns the failure of an earlier flush,
// if one happened; the task is not scheduled in that case.
func (o *Orchestrator) Submit(
	ctx context.Context, task FlushTask,
) error {

	o.mutex.Lock()
	for o.failure == nil && o.inFlight >= o.limit() {
		o.cond.Wait()
	}
	if o.failure != nil {
		o.mutex.Unlock()
		return o.failure
	}

	o.nextSequence++
	sequence := o.nextSequence
	o.inFlight++
	o.mutex.Unlock()

	gate := make(chan struct{})
	previous := task.Stream.ChainFlush(gate)

	o.wg.Add(1)
	go o.worker(ctx, task, sequence, previous, gate)
	return nil
}

// OnState captures a checkpoint. It is emitted verbatim once every flush
// submitted up to this point has succeeded, which may be immediately.
func (o *Orchestrator) OnState(
	payload []byte,
) {

	buffered := make([]byte, len(payload))
	copy(buffered, payload)

	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.failure != nil {
		return
	}
	if o.completedThrough >= o.nextSequence {
		o.emitState(buffered)
		return
	}
	o.pendingStates = append(o.pendingStates, gatedState{
		sequence: o.nextSequence,
		payload:  buffered,
	})
}

// Drain waits for all in-flight flushes and returns the first failure.
func (o *Orchestrator) Drain() error {
	o.wg.Wait()
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.failure
}

// DrainWithTimeout waits up to the grace period for in-flight flushes.
func (o *Orchestrator) DrainWithTimeout(
	grace time.Duration,
) error {

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		o.logger.Warnf("In-flight flushes did not finish within %s", grace)
	}

	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.failure
}

// Failed reports an earlier flush failure; the loop checks it before
// processing further input.
func (o *Orchestrator) Failed() error {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.failure
}

func (o *Orchestrator) worker(
	ctx context.Context, task FlushTask, sequence int64, previous, gate chan struct{},
) {

	defer o.wg.Done()
	defer close(gate)

	// Same-stream flushes load strictly in submission order
	if previous != nil {
		<-previous
	}

	err := o.flush(ctx, task)

	o.mutex.Lock()
	o.inFlight--
	if err != nil {
		if o.failure == nil {
			o.failure = err
		}
		o.logger.Errorf("Flush of stream %s failed: %v", task.Stream.Name, err)
	} else {
		o.doneSequences[sequence] = true
		o.advance()
	}
	o.cond.Broadcast()
	o.mutex.Unlock()
}

func (o *Orchestrator) flush(
	ctx context.Context, task FlushTask,
) error {

	started := time.Now()

	if err := o.syncer.EnsureSchema(
		ctx, task.Snapshot.Spec.Schema, task.Snapshot.Spec.Grants,
	); err != nil {
		return err
	}
	if err := o.syncer.EnsureTable(ctx, task.Snapshot.Spec); err != nil {
		return err
	}

	req := warehouse.LoadRequest{
		Spec:            task.Snapshot.Spec,
		ActivateVersion: task.Snapshot.ActivateVersion,
	}
	if task.Batch != nil {
		req.Paths = task.Batch.Paths
		req.BaseName = task.Batch.Table + "_" + task.Batch.ID
		req.Rows = task.Batch.Rows
		req.Bytes = task.Batch.Bytes
		req.Compression = task.Batch.Compression
	}

	if err := o.syncer.Load(ctx, req); err != nil {
		return errors.Wrap(err, 0)
	}

	if task.Batch != nil {
		if err := task.Batch.Dispose(); err != nil {
			o.logger.Warnf("Unable to delete staged batch of stream %s: %v", task.Stream.Name, err)
		}
		if o.metrics != nil {
			o.metrics.RowsLoaded(task.Stream.Name, task.Batch.Rows)
		}
		o.logger.Infof(
			"Flushed %d row(s) of stream %s in %s",
			task.Batch.Rows, task.Stream.Name, time.Since(started).Truncate(time.Millisecond),
		)
	}
	if o.metrics != nil {
		o.metrics.FlushObserved(task.Stream.Name, time.Since(started))
	}
	return nil
}

// advance moves the completion watermark over every contiguously finished
// sequence and emits the states whose gates are reached. Called with the
// mutex held.
func (o *Orchestrator) advance() {
	for o.doneSequences[o.completedThrough+1] {
		delete(o.doneSequences, o.completedThrough+1)
		o.completedThrough++
	}

	remaining := o.pendingStates[:0]
	for _, state := range o.pendingStates {
		if state.sequence <= o.completedThrough {
			o.emitState(state.payload)
		} else {
			remaining = append(remaining, state)
		}
	}
	o.pendingStates = remaining
}

func (o *Orchestrator) emitState(
	payload []byte,
) {

	o.outMutex.Lock()
	defer o.outMutex.Unlock()
	_, _ = o.out.Write(payload)
	_, _ = o.out.Write([]byte("\n"))
}
