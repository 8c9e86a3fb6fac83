// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Summary aggregates the outcome of one processing cycle.
type Summary struct {
	RunID     string
	Fetched   int
	Delivered int
	Skipped   int // rejected + duplicates
	Failed    int
	Elapsed   time.Duration
}

// Cycle lists unread messages within the lookback window and processes each
// to a terminal state, sequentially. Messages are independent: a failure is
// logged and counted, never propagated.
func (p *Pipeline) Cycle(ctx context.Context, lookback time.Duration) Summary {
	start := time.Now()
	sum := Summary{RunID: uuid.New().String()}
	log := slog.With("run_id", sum.RunID)

	since := p.now().Add(-lookback)
	listCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	messages, err := p.mailbox.ListUnread(listCtx, since)
	cancel()
	if err != nil {
		log.Error("failed to list inbox", "error", err)
		sum.Elapsed = time.Since(start)
		return sum
	}

	sum.Fetched = len(messages)
	if len(messages) == 0 {
		log.Debug("no new messages")
		sum.Elapsed = time.Since(start)
		return sum
	}

	log.Info("processing cycle started", "messages", len(messages))

	for _, msg := range messages {
		if ctx.Err() != nil {
			log.Info("cycle interrupted", "remaining", sum.Fetched-sum.Delivered-sum.Skipped-sum.Failed)
			break
		}

		res := p.Process(ctx, msg)
		switch res.State {
		case StateDelivered:
			sum.Delivered++
		case StateRejected, StateDuplicate:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	sum.Elapsed = time.Since(start)
	log.Info("processing cycle complete",
		"fetched", sum.Fetched,
		"delivered", sum.Delivered,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"elapsed", sum.Elapsed,
	)
	return sum
}

// Poller runs processing cycles at a fixed interval.
type Poller struct {
	pipeline *Pipeline
	interval time.Duration
	lookback time.Duration
}

// NewPoller creates a poller. lookback defines how far back each cycle's
// inbox listing extends; it should exceed the interval so no message falls
// between cycles — the dedup filter absorbs the overlap.
func NewPoller(pipeline *Pipeline, interval, lookback time.Duration) *Poller {
	return &Poller{
		pipeline: pipeline,
		interval: interval,
		lookback: lookback,
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("inbox poller starting",
		"interval", p.interval,
		"lookback", p.lookback,
	)

	// Do an initial cycle immediately
	p.pipeline.Cycle(ctx, p.lookback)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("inbox poller stopping")
			return
		case <-ticker.C:
			p.pipeline.Cycle(ctx, p.lookback)
		}
	}
}
