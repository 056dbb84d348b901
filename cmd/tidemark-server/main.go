//  _   _     _                                _
// | |_(_) __| | ___ _ __ ___   __ _ _ __| | __
// | __| |/ _` |/ _ \ '_ ` _ \ / _` | '__| |/ /
// | |_| | (_| |  __/ | | | | | (_| | |  |   <
//  \__|_|\__,_|\___|_| |_| |_|\__,_|_|  |_|\_\
//
//  Copyright © 2026 Tidemark B.V. All rights reserved.
//
//  CONTACT: hello@tidemark.io
//

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tidemark/tidemark/adapters/repos/db"
	"github.com/tidemark/tidemark/usecases/config"
	"github.com/tidemark/tidemark/usecases/monitoring"
)

// Options represents command line options
type Options struct {
	DataDir         string  `long:"data.dir" description:"directory for durability log segments and artifacts" default:"./data"`
	AvailableMemory int64   `long:"memory.available" description:"memory budget in bytes the dirty pools are sized from" default:"1073741824"`
	SoftLimitRatio  float64 `long:"memory.soft-limit-ratio" description:"virtual dirty soft limit as a fraction of each pool's budget" default:"0.60"`
	FlushConc       int     `long:"flush.concurrency" description:"concurrent flushes per pool" default:"1"`
	StaticShares    float64 `long:"flush.static-shares" description:"pin flush shares instead of interpolating from backlog"`
	SegmentSize     int64   `long:"commitlog.segment-size" description:"durability log segment rotation size in bytes" default:"33554432"`
	ShardCount      int     `long:"shards" description:"number of independent shards" default:"1"`
	AutoSnapshot    bool    `long:"auto-snapshot" description:"snapshot table contents before truncate or drop discards them"`
	MetricsAddr     string  `long:"metrics.listen" description:"address serving prometheus metrics" default:"0.0.0.0:2112"`
	LogLevel        string  `long:"log.level" description:"trace, debug, info, warning or error" default:"info"`

	StopTimeout time.Duration `long:"stop.timeout" description:"how long a graceful shutdown may take" default:"60s"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	log := logger.WithField("app", "tidemark")

	metrics := monitoring.NewPrometheusMetrics()

	cfg := config.Config{
		DataDir:                    opts.DataDir,
		AvailableMemory:            opts.AvailableMemory,
		VirtualDirtySoftLimitRatio: opts.SoftLimitRatio,
		MemtableFlushStaticShares:  opts.StaticShares,
		FlushConcurrency:           opts.FlushConc,
		CommitLogSegmentSize:       opts.SegmentSize,
		ShardCount:                 opts.ShardCount,
		AutoSnapshot:               opts.AutoSnapshot,
	}

	engine, err := db.NewSharded(cfg, log, metrics)
	if err != nil {
		log.WithError(err).Fatal("failed to build engine")
	}

	engine.Start()
	if err := engine.Replay(context.Background()); err != nil {
		log.WithError(err).Fatal("durability log replay failed")
	}

	go serveMetrics(opts.MetricsAddr, metrics, log)

	log.WithField("shards", engine.Len()).
		WithField("data_dir", opts.DataDir).
		Info("engine started")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.WithField("signal", sig.String()).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), opts.StopTimeout)
	defer cancel()

	if err := engine.Stop(ctx); err != nil {
		log.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func serveMetrics(addr string, metrics *monitoring.PrometheusMetrics, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry,
		promhttp.HandlerOpts{}))

	log.WithField("address", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics listener failed")
	}
}
