// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package stats provides process-wide command counters shared by all
// proxy sessions.
package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// logEvery controls how often the running total is logged.
const logEvery = 100

// Registry counts observed commands. Increments are lock-free so one
// session never waits on another: the total is a single atomic counter and
// per-command counters live in a concurrent map keyed by upper-cased
// command name.
//
// A Registry is constructed once at startup and passed by handle into
// every session. Counts only ever increase and are never reset.
type Registry struct {
	total  atomic.Uint64
	counts sync.Map // string -> *atomic.Uint64
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Record increments the counter for the given command and the process
// total. Command names are case-normalized, so "get" and "GET" count
// identically.
func (r *Registry) Record(command string) {
	total := r.total.Add(1)

	name := strings.ToUpper(command)
	c, ok := r.counts.Load(name)
	if !ok {
		c, _ = r.counts.LoadOrStore(name, new(atomic.Uint64))
	}
	c.(*atomic.Uint64).Add(1)

	if total%logEvery == 0 {
		r.logger.Info("commands processed", slog.Uint64("total", total))
	}
}

// Total returns the process-wide command count.
func (r *Registry) Total() uint64 {
	return r.total.Load()
}

// Snapshot returns a copy of the per-command counts.
func (r *Registry) Snapshot() map[string]uint64 {
	counts := make(map[string]uint64)
	r.counts.Range(func(k, v any) bool {
		counts[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// WriteSummary writes a human-readable report of the total and per-command
// counts, highest count first (ties broken by name) so the output is
// deterministic. The printed total is the sum of the snapshot, so the
// report is internally consistent even while counters are still moving.
func (r *Registry) WriteSummary(w io.Writer) {
	counts := r.Snapshot()
	var total uint64
	for _, count := range counts {
		total += count
	}

	fmt.Fprintf(w, "\n=== Command Statistics ===\n")
	fmt.Fprintf(w, "Total commands: %d\n", total)

	if len(counts) > 0 {
		type entry struct {
			name  string
			count uint64
		}
		sorted := make([]entry, 0, len(counts))
		for name, count := range counts {
			sorted = append(sorted, entry{name, count})
		}
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].count != sorted[j].count {
				return sorted[i].count > sorted[j].count
			}
			return sorted[i].name < sorted[j].name
		})

		fmt.Fprintf(w, "\nPer-command breakdown:\n")
		for _, e := range sorted {
			fmt.Fprintf(w, "  %s: %d\n", e.name, e.count)
		}
	}
	fmt.Fprintf(w, "==========================\n")
}
