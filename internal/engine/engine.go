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

package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-errors/errors"
	"github.com/rhodium-data/target-redshift/internal/flushing"
	"github.com/rhodium-data/target-redshift/internal/logging"
	"github.com/rhodium-data/target-redshift/internal/staging"
	"github.com/rhodium-data/target-redshift/internal/streams"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/rhodium-data/target-redshift/spi/protocol"
	"github.com/rhodium-data/target-redshift/spi/warehouse"
)

// ErrInterrupted reports that the loop stopped on a signal.
var ErrInterrupted = fmt.Errorf("interrupted by signal")

// shutdownGracePeriod bounds the wait for in-flight flushes on a signal.
const shutdownGracePeriod = 30 * time.Second

// Metrics is the engine-facing slice of the stats reporter.
type Metrics interface {
	flushing.Metrics
	RecordReceived(stream string)
}

// Engine is the single-threaded message loop: it reads protocol lines from
// the input, applies them to the stream registry, and hands sealed batches
// to the flush orchestrator.
type Engine struct {
	logger       *logging.Logger
	config       *spiconfig.Config
	registry     *streams.Registry
	orchestrator *flushing.Orchestrator
	syncer       warehouse.Syncer
	metrics      Metrics

	in         io.Reader
	scratchDir string
	sequence   int64
}

func NewEngine(
	config *spiconfig.Config, syncer warehouse.Syncer, metrics Metrics,
	in io.Reader, out io.Writer,
) (*Engine, error) {

	logger, err := logging.NewLogger("MessageLoop")
	if err != nil {
		return nil, err
	}

	scratchDir, err := staging.NewScratchDir(config.TempDir)
	if err != nil {
		return nil, err
	}

	registry, err := streams.NewRegistry(config, scratchDir)
	if err != nil {
		_ = staging.Sweep(scratchDir)
		return nil, err
	}

	orchestrator, err := flushing.NewOrchestrator(
		syncer,
		func() int { return config.EffectiveParallelism(registry.Count()) },
		out,
		metrics,
	)
	if err != nil {
		_ = staging.Sweep(scratchDir)
		return nil, err
	}

	return &Engine{
		logger:       logger,
		config:       config,
		registry:     registry,
		orchestrator: orchestrator,
		syncer:       syncer,
		metrics:      metrics,
		in:           in,
		scratchDir:   scratchDir,
	}, nil
}

// Run consumes the input until EOF, error, or cancellation. The scratch
// directory is swept on every exit path.
func (e *Engine) Run(
	ctx context.Context,
) error {

	defer func() {
		if err := staging.Sweep(e.scratchDir); err != nil {
			e.logger.Warnf("Unable to sweep scratch directory %s: %v", e.scratchDir, err)
		}
	}()

	if err := e.syncer.Prime(ctx); err != nil {
		return errors.Wrap(err, 0)
	}

	reader := bufio.NewReaderSize(e.in, 1<<20)
	for {
		if ctx.Err() != nil {
			return e.shutdown()
		}
		if err := e.orchestrator.Failed(); err != nil {
			return err
		}

		line, readErr := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if err := e.dispatch(ctx, trimmed); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.Wrap(readErr, 0)
		}
	}

	if err := e.flushAllStreams(ctx); err != nil {
		return err
	}
	if err := e.orchestrator.Drain(); err != nil {
		return err
	}

	e.registry.Range(func(stream *streams.Stream) bool {
		e.logger.Infof("Stream %s: %d record(s) loaded", stream.Name, stream.TotalRows())
		return true
	})
	return nil
}

func (e *Engine) dispatch(
	ctx context.Context, line []byte,
) error {

	msg, err := protocol.ParseMessage(line)
	if err != nil {
		return err
	}

	switch msg.Type {
	case protocol.SchemaMessage:
		stream, needFlush, err := e.registry.OnSchema(msg)
		if err != nil {
			return err
		}
		if needFlush {
			// The staged rows match the old column set, get them out first
			if err := e.flushStream(ctx, stream); err != nil {
				return err
			}
			if err := e.registry.ApplySchema(stream, msg); err != nil {
				return err
			}
		}
		return nil

	case protocol.RecordMessage:
		e.sequence++
		stream, full, err := e.registry.OnRecord(msg, e.sequence)
		if err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.RecordReceived(msg.Stream)
		}
		if full {
			if e.config.FlushAllStreams {
				return e.flushAllStreams(ctx)
			}
			return e.flushStream(ctx, stream)
		}
		return nil

	case protocol.StateMessage:
		e.orchestrator.OnState(msg.Value)
		return nil

	case protocol.ActivateVersionMessage:
		_, err := e.registry.OnActivateVersion(msg)
		return err
	}

	return protocol.Errorf("unknown message type: %s", msg.Type)
}

func (e *Engine) flushStream(
	ctx context.Context, stream *streams.Stream,
) error {

	batch, snapshot, err := e.registry.SealBatch(stream)
	if err != nil {
		return err
	}
	if batch == nil && snapshot.ActivateVersion == nil {
		return nil
	}

	return e.orchestrator.Submit(ctx, flushing.FlushTask{
		Stream:   stream,
		Batch:    batch,
		Snapshot: snapshot,
	})
}

func (e *Engine) flushAllStreams(
	ctx context.Context,
) error {

	all := make([]*streams.Stream, 0, e.registry.Count())
	e.registry.Range(func(stream *streams.Stream) bool {
		all = append(all, stream)
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		return all[i].Name < all[j].Name
	})

	for _, stream := range all {
		if err := e.flushStream(ctx, stream); err != nil {
			return err
		}
	}
	return nil
}

// shutdown stops reading input, waits out in-flight flushes up to the grace
// period, and reports the interruption.
func (e *Engine) shutdown() error {
	e.logger.Warnf("Shutdown requested, draining in-flight flushes")
	if err := e.orchestrator.DrainWithTimeout(shutdownGracePeriod); err != nil {
		return err
	}
	return ErrInterrupted
}
