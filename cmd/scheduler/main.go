/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/offhours-io/offhours/pkg/history"
	"github.com/offhours-io/offhours/pkg/operator"
	"github.com/offhours-io/offhours/pkg/operator/logging"
	"github.com/offhours-io/offhours/pkg/operator/options"
	"github.com/offhours-io/offhours/pkg/scan"
)

func main() {
	opts := options.New().MustParse(os.Args[1:])
	ctx := context.Background()
	op, err := operator.New(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing: %s\n", err)
		os.Exit(1)
	}
	defer func() { _ = op.Logger.Sync() }()
	ctx = logging.WithLogger(ctx, op.Logger)

	switch options.Mode(opts.Mode) {
	case options.ModeFull:
		exit(print(op.Scanner.FullScan(ctx, history.TriggerOnDemand)))
	case options.ModePartial:
		exit(print(op.Scanner.PartialScan(ctx, opts.ScheduleID, opts.TenantID, history.TriggerOnDemand, opts.Actor)))
	case options.ModeDaemon:
		daemon(ctx, op)
	}
}

// print writes the scan result as JSON to stdout and reports whether the
// process should exit nonzero.
func print(result scan.Result, err error) bool {
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %s\n", err)
		return false
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	return result.Success
}

func exit(ok bool) {
	if !ok {
		os.Exit(1)
	}
	os.Exit(0)
}

// daemon runs periodic full scans on the configured cron expression and
// serves metrics until interrupted. Overlapping ticks are safe: schedules
// already being scanned are skipped by the in-flight registry.
func daemon(ctx context.Context, op *operator.Operator) {
	log := op.Logger
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: fmt.Sprintf(":%d", op.Options.MetricsPort), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.With("error", err).Error("metrics server terminated")
		}
	}()

	runner := cron.New()
	if _, err := runner.AddFunc(op.Options.ScanCron, func() {
		result, err := op.Scanner.FullScan(ctx, history.TriggerPeriodic)
		if err != nil {
			log.With("error", err).Error("periodic scan failed")
			return
		}
		log.With("execution-id", result.ExecutionID, "schedules", result.SchedulesProcessed,
			"started", result.ResourcesStarted, "stopped", result.ResourcesStopped,
			"failed", result.ResourcesFailed, "duration", result.Duration).Info("periodic scan complete")
	}); err != nil {
		log.With("error", err).Fatal("registering periodic scan")
	}
	runner.Start()
	log.With("cron", op.Options.ScanCron, "metrics-port", op.Options.MetricsPort).Info("scheduler started")

	<-ctx.Done()
	log.Info("shutting down")
	<-runner.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
