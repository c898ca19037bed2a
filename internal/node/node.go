// Package node wires storage, the block index, the UTXO set and the query
// components into one chain-state engine that can be embedded in any
// binary.
package node

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-chainstate/config"
	"github.com/Klingon-tech/klingnet-chainstate/internal/blockstats"
	"github.com/Klingon-tech/klingnet-chainstate/internal/chain"
	klog "github.com/Klingon-tech/klingnet-chainstate/internal/log"
	"github.com/Klingon-tech/klingnet-chainstate/internal/metrics"
	"github.com/Klingon-tech/klingnet-chainstate/internal/storage"
	"github.com/Klingon-tech/klingnet-chainstate/internal/tipnotify"
	"github.com/Klingon-tech/klingnet-chainstate/internal/utxo"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Database namespaces.
var (
	prefixChainstate = []byte("c/")
	prefixBlocks     = []byte("b/")
	prefixIndex      = []byte("i/")
)

// Node is a fully-initialized chain-state engine.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	db       storage.DB
	ch       *chain.Chain
	notifier *tipnotify.Notifier

	// Queries
	stats    *blockstats.Aggregator
	prevouts *blockstats.StorePrevOutResolver

	supplyMu sync.Mutex
	supply   *SupplyInfo

	metricsSrv *metrics.Server

	// Lifecycle
	runMu    sync.Mutex
	stopping bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates and initializes a Node: logger, storage, chain state, tip
// notifier, query components and the optional metrics endpoint.
func New(cfg *config.Config) (*Node, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile != "" {
		logFile = expandHome(logFile)
	}
	if err := klog.Init(klog.Options{
		Level:     cfg.Log.Level,
		JSON:      cfg.Log.JSON,
		Console:   os.Stderr,
		File:      logFile,
		MaxSizeKB: cfg.Log.MaxSizeKB,
		MaxRolls:  cfg.Log.MaxRolls,
	}); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.Node

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("backend", cfg.Storage.Backend).
		Msg("Starting Klingnet chain-state engine")

	// ── 2. Open storage ─────────────────────────────────────────────
	path := expandHome(cfg.ChainstateDir())
	db, err := storage.Open(cfg.Storage.Backend, path)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("Database opened")

	// ── 3. Chain ────────────────────────────────────────────────────
	blocks := chain.NewBlockStore(storage.NewPrefixDB(db, prefixBlocks))
	ch, err := chain.New(
		blocks,
		utxo.NewStore(storage.NewPrefixDB(db, prefixChainstate)),
		chain.NewIndex(storage.NewPrefixDB(db, prefixIndex)),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load chain state: %w", err)
	}

	// ── 4. Tip notifier ─────────────────────────────────────────────
	metrics.Init()
	notifier := tipnotify.New()
	if tip := ch.Active().Tip(); tip != nil {
		notifier.Notify(tipnotify.Snapshot{Hash: tip.Hash, Height: tip.Height})
		metrics.TipHeight.Set(float64(tip.Height))
	}
	ch.Active().OnTipChange(func(hash types.Hash, height uint64) {
		notifier.Notify(tipnotify.Snapshot{Hash: hash, Height: height})
		metrics.TipHeight.Set(float64(height))
		metrics.TipChanges.Inc()
	})
	metrics.SetWaitersSource(notifier.Waiters)

	// ── 5. Query components ─────────────────────────────────────────
	prevouts := blockstats.NewStorePrevOutResolver(blocks, cfg.Query.PrevOutCacheSize, cfg.Query.PrevOutCacheTTL)
	aggregator := blockstats.New(ch.Active(), blocks, prevouts, cfg.Query.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		ch:       ch,
		notifier: notifier,
		stats:    aggregator,
		prevouts: prevouts,
		ctx:      ctx,
		cancel:   cancel,
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		prevouts.Start()
	}()

	// ── 6. Metrics ──────────────────────────────────────────────────
	if cfg.Metrics.Enabled {
		srv, err := metrics.Listen(cfg.Metrics.Addr)
		if err != nil {
			n.Stop()
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
		n.metricsSrv = srv
		logger.Info().Str("addr", srv.Addr()).Msg("Metrics server listening")
	}

	logger.Info().
		Int64("height", ch.Active().Height()).
		Str("tip", shortHash(ch.TipHash().String())).
		Int("indexed", ch.Index().Len()).
		Msg("Chain state loaded")

	return n, nil
}

// Stop performs graceful shutdown in reverse order. Running queries and
// imports are cancelled and waited for before the database closes. It is
// safe to call more than once.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.runMu.Lock()
		n.stopping = true
		n.runMu.Unlock()

		n.notifier.Shutdown()
		n.cancel()
		n.prevouts.Stop()
		n.wg.Wait()

		if n.metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := n.metricsSrv.Shutdown(ctx); err != nil {
				n.logger.Warn().Err(err).Msg("Metrics server shutdown")
			}
			cancel()
		}
		if n.db != nil {
			if err := n.db.Close(); err != nil {
				n.logger.Error().Err(err).Msg("Closing database")
			}
		}

		n.logger.Info().Msg("Goodbye!")
		_ = klog.Close()
	})
}

// Chain returns the underlying chain state.
func (n *Node) Chain() *chain.Chain { return n.ch }

// Notifier returns the tip notifier.
func (n *Node) Notifier() *tipnotify.Notifier { return n.notifier }

// MetricsAddr returns the metrics listen address, or "" when disabled.
func (n *Node) MetricsAddr() string {
	if n.metricsSrv == nil {
		return ""
	}
	return n.metricsSrv.Addr()
}
