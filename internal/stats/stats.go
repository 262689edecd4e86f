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

package stats

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-errors/errors"
	"github.com/rhodium-data/target-redshift/internal/version"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/segmentio/stats/v4"
	"github.com/segmentio/stats/v4/procstats"
	"github.com/segmentio/stats/v4/prometheus"
)

// Service exposes ingestion metrics on a Prometheus scrape endpoint when
// stats_enabled is set.
type Service struct {
	statsEnabled bool
	handler      *prometheus.Handler
	engine       *stats.Engine
	server       *http.Server
	collector    io.Closer
}

func NewStatsService(
	c *spiconfig.Config,
) *Service {

	statsHandler := &prometheus.Handler{
		TrimPrefix: version.BinName,
	}

	engine := stats.NewEngine(version.BinName, statsHandler)

	var collector io.Closer
	if c.StatsEnabled {
		collector = procstats.StartCollector(procstats.NewGoMetricsWith(engine))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", statsHandler.ServeHTTP)

	return &Service{
		statsEnabled: c.StatsEnabled,
		handler:      statsHandler,
		engine:       engine,
		collector:    collector,
		server: &http.Server{
			Addr:    c.StatsAddress,
			Handler: mux,
		},
	}
}

func (s *Service) Start() error {
	if s.statsEnabled {
		go func() {
			err := s.server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				panic(err)
			}
		}()
	}
	return nil
}

func (s *Service) Stop() error {
	if s.collector != nil {
		_ = s.collector.Close()
	}
	if !s.statsEnabled {
		return nil
	}
	return s.server.Shutdown(context.Background())
}

func (s *Service) NewReporter() *Reporter {
	return &Reporter{engine: s.engine}
}

// Reporter is the engine-facing metrics surface.
type Reporter struct {
	engine *stats.Engine
}

func (r *Reporter) RecordReceived(
	stream string,
) {

	r.engine.Incr("records.received", stats.T("stream", stream))
}

func (r *Reporter) RowsLoaded(
	stream string, rows int64,
) {

	r.engine.Add("rows.loaded", float64(rows), stats.T("stream", stream))
}

func (r *Reporter) FlushObserved(
	stream string, duration time.Duration,
) {

	r.engine.Observe("flush.duration.seconds", duration.Seconds(), stats.T("stream", stream))
}
