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
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/metrics"
	"github.com/cloudnap/cloudnap/pkg/operator"
	"github.com/cloudnap/cloudnap/pkg/operator/options"
)

func main() {
	opts := options.New().MustParse()
	log := newLogger(opts.LogLevel)
	ctx := logr.NewContext(context.Background(), log)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	op, err := operator.NewOperator(ctx, opts)
	if err != nil {
		log.Error(err, "initializing")
		os.Exit(1)
	}
	go serveMetrics(ctx, opts.MetricsPort)

	if opts.Once {
		if !invoke(ctx, op) {
			os.Exit(1)
		}
		return
	}

	log.Info("starting scheduler", "tickInterval", opts.TickInterval, "tenant", opts.TenantID)
	ticker := time.NewTicker(opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			invoke(ctx, op)
		}
	}
}

// invoke runs one tick under the invocation budget.
func invoke(ctx context.Context, op *operator.Operator) bool {
	tickCtx, cancel := context.WithTimeout(ctx, op.Options.InvocationTimeout)
	defer cancel()
	result := op.Controller.Run(tickCtx, &v1.Payload{
		TenantID:    op.Options.TenantID,
		TriggeredBy: v1.TriggerSourceSystem,
	})
	if !result.Success {
		logr.FromContextOrDiscard(ctx).Info("invocation finished with errors", "executionId", result.ExecutionID, "errors", result.Errors)
	}
	return result.Success
}

func serveMetrics(ctx context.Context, port int) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.FromContextOrDiscard(ctx).Error(err, "metrics server exited")
	}
}

func newLogger(level string) logr.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return zapr.NewLogger(logger)
}
