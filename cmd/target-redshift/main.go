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

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rhodium-data/target-redshift/internal/engine"
	"github.com/rhodium-data/target-redshift/internal/logging"
	"github.com/rhodium-data/target-redshift/internal/objectstore"
	"github.com/rhodium-data/target-redshift/internal/redshift"
	"github.com/rhodium-data/target-redshift/internal/stats"
	"github.com/rhodium-data/target-redshift/internal/supporting"
	"github.com/rhodium-data/target-redshift/internal/version"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/urfave/cli"
)

var (
	configurationFile string
	verbose           bool
	withCaller        bool
	versionOnly       bool
)

func main() {
	app := &cli.App{
		Name:  "target-redshift",
		Usage: "Singer target loading tap output into Amazon Redshift",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config,c",
				Value:       "",
				Usage:       "Load configuration from `FILE`",
				Destination: &configurationFile,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Usage:       "Show verbose output",
				Destination: &verbose,
			},
			&cli.BoolFlag{
				Name:        "caller",
				Usage:       "Collect caller information for log messages",
				Destination: &withCaller,
			},
			&cli.BoolFlag{
				Name:        "version",
				Usage:       "Prints the version and exits",
				Destination: &versionOnly,
			},
		},
		Action: start,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func start(*cli.Context) error {
	fmt.Fprintf(os.Stderr, "%s version %s (git revision %s; branch %s)\n",
		version.BinName, version.Version, version.CommitHash, version.Branch,
	)

	if versionOnly {
		return nil
	}

	logging.WithCaller = withCaller
	logging.WithVerbose = verbose

	config := &spiconfig.Config{}

	// No configuration file set? Try env variable!
	if configurationFile == "" {
		if cf, present := os.LookupEnv("TARGET_REDSHIFT_CONFIG"); present {
			fmt.Fprintf(os.Stderr, "Using configuration file from environment variable\n")
			configurationFile = cf
		}
	}

	if configurationFile == "" {
		return cli.NewExitError("configuration file required", 3)
	}

	f, err := os.Open(configurationFile)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("Configuration file couldn't be opened: %v\n", err), 3)
	}

	b, err := io.ReadAll(f)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("Configuration file couldn't be read: %v\n", err), 4)
	}

	ext := filepath.Ext(strings.ToLower(configurationFile))
	yamlConfig := ext == ".yaml" || ext == ".yml"
	if err := spiconfig.Unmarshall(b, config, yamlConfig); err != nil {
		return cli.NewExitError(fmt.Sprintf("Configuration file couldn't be decoded: %v\n", err), 5)
	}

	config.ApplyDefaults()
	if configErrors := config.Validate(); len(configErrors) > 0 {
		for _, configError := range configErrors {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", configError)
		}
		return cli.NewExitError("configuration is invalid", 6)
	}

	if err := logging.InitializeLogging(config); err != nil {
		return supporting.AdaptError(err, 1)
	}

	connector, err := redshift.NewConnector(config)
	if err != nil {
		return supporting.AdaptError(err, 1)
	}

	store, err := objectstore.NewS3Store(config)
	if err != nil {
		return supporting.AdaptError(err, 1)
	}

	creds, err := objectstore.CopyCredentials(config)
	if err != nil {
		return supporting.AdaptError(err, 1)
	}

	syncer, err := redshift.NewSyncer(config, connector, store, creds)
	if err != nil {
		return supporting.AdaptError(err, 1)
	}

	statsService := stats.NewStatsService(config)
	if err := statsService.Start(); err != nil {
		return supporting.AdaptError(err, 1)
	}
	defer func() {
		_ = statsService.Stop()
	}()

	target, err := engine.NewEngine(config, syncer, statsService.NewReporter(), os.Stdin, os.Stdout)
	if err != nil {
		return supporting.AdaptError(err, 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	if err := target.Run(ctx); err != nil {
		if stderrors.Is(err, engine.ErrInterrupted) {
			return cli.NewExitError("interrupted", 130)
		}
		return supporting.AdaptError(err, 1)
	}
	return nil
}
