package bptree

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// treeMetrics holds the engine's OpenTelemetry counters. When no meter is
// injected through Options a noop meter backs them, so recording is free.
type treeMetrics struct {
	sets           metric.Int64Counter
	gets           metric.Int64Counter
	hits           metric.Int64Counter
	leafSplits     metric.Int64Counter
	internalSplits metric.Int64Counter
	pagesRead      metric.Int64Counter
	pagesWritten   metric.Int64Counter
}

func newTreeMetrics(meter metric.Meter) (*treeMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}
	m := &treeMetrics{}
	var err error
	if m.sets, err = meter.Int64Counter("ordkv.tree.sets",
		metric.WithDescription("Upsert operations")); err != nil {
		return nil, err
	}
	if m.gets, err = meter.Int64Counter("ordkv.tree.gets",
		metric.WithDescription("Lookup operations")); err != nil {
		return nil, err
	}
	if m.hits, err = meter.Int64Counter("ordkv.tree.hits",
		metric.WithDescription("Lookups that found the key")); err != nil {
		return nil, err
	}
	if m.leafSplits, err = meter.Int64Counter("ordkv.tree.leaf_splits",
		metric.WithDescription("Leaf node splits")); err != nil {
		return nil, err
	}
	if m.internalSplits, err = meter.Int64Counter("ordkv.tree.internal_splits",
		metric.WithDescription("Internal node splits")); err != nil {
		return nil, err
	}
	if m.pagesRead, err = meter.Int64Counter("ordkv.tree.pages_read",
		metric.WithDescription("Pages read from the backing file")); err != nil {
		return nil, err
	}
	if m.pagesWritten, err = meter.Int64Counter("ordkv.tree.pages_written",
		metric.WithDescription("Pages written to the backing file")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *treeMetrics) add(c metric.Int64Counter, n int64) {
	c.Add(context.Background(), n)
}
