// ordkv-bench bulk-loads a tree with shuffled uint64 keys and reads every
// key back, reporting throughput. With -metrics-port set it also exposes the
// engine counters on a Prometheus /metrics endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ordkv/ordkv/core/bptree"
	"github.com/ordkv/ordkv/core/codec"
	"github.com/ordkv/ordkv/pkg/logger"
	"github.com/ordkv/ordkv/pkg/telemetry"
)

func main() {
	dbPath := flag.String("db", "/tmp/ordkv/bench.db", "path to the tree file")
	n := flag.Uint64("n", 100000, "number of keys to write and read back")
	order := flag.Int("order", 128, "tree order when creating a new file")
	metricsPort := flag.Int("metrics-port", 0, "Prometheus /metrics port, 0 disables")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	zlog, err := logger.New(logger.Config{Level: *logLevel, Format: "console", OutputFile: "stderr"})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	tel, shutdown, err := telemetry.New(telemetry.Config{
		Enabled:        *metricsPort != 0,
		ServiceName:    "ordkv-bench",
		PrometheusPort: *metricsPort,
	})
	if err != nil {
		zlog.Fatal("failed to init telemetry", zap.Error(err))
	}
	defer shutdown(context.Background())

	tree, err := bptree.Open(*dbPath,
		codec.Uint64, codec.Ordered[uint64],
		codec.Uint64,
		bptree.Options{Order: *order, Logger: zlog, Meter: tel.Meter},
	)
	if err != nil {
		zlog.Fatal("failed to open tree", zap.Error(err))
	}
	defer tree.Close()

	keys := rand.Perm(int(*n))

	start := time.Now()
	for _, k := range keys {
		if err := tree.Set(uint64(k), uint64(k)+1); err != nil {
			zlog.Fatal("set failed", zap.Int("key", k), zap.Error(err))
		}
	}
	writeDur := time.Since(start)
	zlog.Info("write phase done",
		zap.Uint64("keys", *n),
		zap.Duration("elapsed", writeDur),
		zap.Float64("ops_per_sec", float64(*n)/writeDur.Seconds()))

	start = time.Now()
	for k := uint64(0); k < *n; k++ {
		v, found, err := tree.Get(k)
		if err != nil {
			zlog.Fatal("get failed", zap.Uint64("key", k), zap.Error(err))
		}
		if !found || v != k+1 {
			zlog.Fatal("readback mismatch",
				zap.Uint64("key", k), zap.Uint64("value", v), zap.Bool("found", found))
		}
	}
	readDur := time.Since(start)
	zlog.Info("read phase done",
		zap.Uint64("keys", *n),
		zap.Duration("elapsed", readDur),
		zap.Float64("ops_per_sec", float64(*n)/readDur.Seconds()))

	depth, err := tree.Depth()
	if err != nil {
		zlog.Fatal("depth failed", zap.Error(err))
	}
	zlog.Info("tree shape", zap.Int("order", tree.Order()), zap.Int("depth", depth))
}
