// Package replay drives recorded fill feeds through live trading records,
// persisting the resulting state to the journal.
package replay

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/coachpo/lotmatch/config"
	"github.com/coachpo/lotmatch/errs"
	"github.com/coachpo/lotmatch/internal/journal"
	"github.com/coachpo/lotmatch/internal/telemetry"
	"github.com/coachpo/lotmatch/ledger"
)

// Summary reports the outcome of replaying one symbol's fills.
type Summary struct {
	Symbol     string
	RunID      string
	Accepted   int
	Rejected   int
	Closed     int
	TotalFees  decimal.Decimal
	NetProfit  decimal.Decimal
	OpenAmount decimal.Decimal
}

// Engine replays fill feeds. Each symbol gets its own trading record and its
// own worker; fills within a symbol apply strictly in feed order.
type Engine struct {
	cfg     config.Settings
	store   journal.Store
	metrics *telemetry.EngineMetrics
	logger  *log.Logger
	limiter *rate.Limiter
	clock   *VirtualClock
	runID   string
}

// New constructs a replay engine. The journal store is required; metrics and
// logger may be nil.
func New(cfg config.Settings, store journal.Store, metrics *telemetry.EngineMetrics, logger *log.Logger) *Engine {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Replay.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Replay.RatePerSecond), 1)
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		logger:  logger,
		limiter: limiter,
		clock:   NewVirtualClock(time.Time{}),
		runID:   uuid.NewString(),
	}
}

// RunID identifies this replay run; it tags fills that arrive without a
// correlation id.
func (e *Engine) RunID() string { return e.runID }

// Clock exposes the virtual clock advanced by the replayed fills.
func (e *Engine) Clock() *VirtualClock { return e.clock }

// Run replays the fills and returns one summary per symbol, sorted by symbol.
// Fills the matching engine rejects (an exit with nothing open, a stale
// sequence) are counted and skipped; the replay itself keeps going.
func (e *Engine) Run(ctx context.Context, fills []TimedFill) ([]Summary, error) {
	bySymbol := groupBySymbol(fills)

	var (
		mu        sync.Mutex
		summaries []Summary
		firstErr  error
	)

	workers := e.cfg.Replay.Workers
	if workers > len(bySymbol) {
		workers = len(bySymbol)
	}
	if workers <= 0 {
		workers = 1
	}

	p := pool.New().WithMaxGoroutines(workers)
	for _, stream := range bySymbol {
		stream := stream
		p.Go(func() {
			summary, err := e.replaySymbol(ctx, stream)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			summaries = append(summaries, summary)
		})
	}
	p.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Symbol < summaries[j].Symbol })
	return summaries, nil
}

type symbolStream struct {
	symbol string
	fills  []ledger.Fill
}

func groupBySymbol(fills []TimedFill) []symbolStream {
	index := make(map[string]int)
	var streams []symbolStream
	for _, tf := range fills {
		at, ok := index[tf.Symbol]
		if !ok {
			at = len(streams)
			index[tf.Symbol] = at
			streams = append(streams, symbolStream{symbol: tf.Symbol, fills: nil})
		}
		streams[at].fills = append(streams[at].fills, tf.Fill)
	}
	return streams
}

func (e *Engine) replaySymbol(ctx context.Context, stream symbolStream) (Summary, error) {
	record, err := ledger.NewLiveTradingRecord(stream.symbol, e.cfg.Matching.OpeningSide, e.cfg.Matching.Policy, nil)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Symbol:     stream.symbol,
		RunID:      e.runID,
		Accepted:   0,
		Rejected:   0,
		Closed:     0,
		TotalFees:  decimal.Zero,
		NetProfit:  decimal.Zero,
		OpenAmount: decimal.Zero,
	}

	sincePersist := 0
	for _, fill := range stream.fills {
		if err := e.limiter.Wait(ctx); err != nil {
			return Summary{}, err
		}
		if fill.CorrelationID == "" {
			fill.CorrelationID = e.runID + ":" + uuid.NewString()
		}
		e.clock.Advance(fill.Time)

		openBefore := len(record.OpenLots())
		closedBefore := len(record.Positions())
		started := time.Now()
		if err := record.RecordFill(fill); err != nil {
			summary.Rejected++
			e.metrics.RecordRejection(ctx, stream.symbol, errorReason(err))
			if e.logger != nil {
				e.logger.Printf("replay %s: fill rejected: %v", stream.symbol, err)
			}
			continue
		}
		elapsed := time.Since(started)
		summary.Accepted++
		e.metrics.RecordFill(ctx, stream.symbol, string(fill.Side), string(e.cfg.Matching.Policy), elapsed)
		e.metrics.AdjustOpenLots(ctx, stream.symbol, len(record.OpenLots())-openBefore)
		if produced := len(record.Positions()) - closedBefore; produced > 0 {
			e.metrics.RecordClosed(ctx, stream.symbol, produced)
		}

		sincePersist++
		if sincePersist >= e.cfg.Journal.SnapshotEvery {
			if err := e.store.SaveRecord(ctx, record); err != nil {
				return Summary{}, err
			}
			sincePersist = 0
		}
	}

	if err := e.store.SaveRecord(ctx, record); err != nil {
		return Summary{}, err
	}

	positions := record.Positions()
	summary.Closed = len(positions)
	for _, pos := range positions {
		summary.NetProfit = summary.NetProfit.Add(pos.NetProfit)
	}
	summary.TotalFees = record.TotalFees()
	if net, ok := record.NetOpenPosition(); ok {
		summary.OpenAmount = net.Amount
	}
	return summary, nil
}

func errorReason(err error) string {
	if code := errs.CodeOf(err); code != "" {
		return string(code)
	}
	return "unknown"
}
