package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ocx/streamwin/internal/config"
	"github.com/ocx/streamwin/internal/epoch"
	"github.com/ocx/streamwin/internal/eowc"
	"github.com/ocx/streamwin/internal/executor"
	"github.com/ocx/streamwin/internal/metrics"
	"github.com/ocx/streamwin/internal/statetable"
	"github.com/ocx/streamwin/internal/vnode"
)

func main() {
	cfg := config.Get()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	schema, err := buildSchema(cfg)
	if err != nil {
		logger.Error("invalid operator schema", slog.Any("error", err))
		os.Exit(1)
	}

	table, err := buildStateTable(ctx, cfg, schema, logger)
	if err != nil {
		logger.Error("failed to initialize state table backend", slog.Any("error", err))
		os.Exit(1)
	}

	epochSrc := buildEpochSource(cfg)
	metricsReg := metrics.NewMetrics()
	vnodes := buildVnodeBitmap(cfg)

	source, sink := buildLocalTransport()

	exec := executor.New(
		cfg.Operator.ExecutorID,
		schema,
		table,
		epochSrc,
		source,
		sink,
		executor.WithLogger(logger),
		executor.WithMetrics(metricsReg),
		executor.WithCacheSize(cfg.Operator.CacheMaxPartitions),
		executor.WithVnodeBitmap(vnodes),
	)

	group, gctx := errgroup.WithContext(ctx)

	if cfg.Monitoring.EnablePrometheus {
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.Handler()}
		group.Go(func() error {
			logger.Info("metrics server listening", slog.String("addr", cfg.Server.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	group.Go(func() error {
		return exec.Run(gctx)
	})

	if err := group.Wait(); err != nil && gctx.Err() == nil {
		logger.Error("executor terminated with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}

func buildStateTable(ctx context.Context, cfg *config.Config, schema executor.Schema, logger *slog.Logger) (statetable.Table, error) {
	pkIndices := schema.PKIndices()
	if cfg.StateTable.Backend == "spanner" {
		return statetable.NewSpannerTable(ctx,
			cfg.StateTable.Spanner.ProjectID,
			cfg.StateTable.Spanner.InstanceID,
			cfg.StateTable.Spanner.DatabaseID,
			cfg.StateTable.Spanner.Table,
			logger,
			pkIndices...,
		)
	}
	return statetable.NewMemoryTable(pkIndices...), nil
}

// buildVnodeBitmap seeds the replica's initial vnode ownership. With no
// explicit assignment configured, it owns every vnode — the single-
// replica default — so a deployment only needs OwnedVnodes once it
// actually splits an operator instance's partitions across replicas.
func buildVnodeBitmap(cfg *config.Config) *vnode.Bitmap {
	total := cfg.Operator.TotalVnodes
	if total == 0 {
		total = 256
	}
	b := vnode.NewBitmap(total)
	owned := cfg.Operator.OwnedVnodes
	if len(owned) == 0 {
		owned = make([]uint32, total)
		for i := range owned {
			owned[i] = uint32(i)
		}
	}
	b.Update(owned)
	return b
}

func buildEpochSource(cfg *config.Config) epoch.Source {
	if cfg.Epoch.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Epoch.Redis.Addr,
			Password: cfg.Epoch.Redis.Password,
			DB:       cfg.Epoch.Redis.DB,
		})
		return epoch.NewRedisCounter(rdb, cfg.Epoch.Redis.KeyName)
	}
	return epoch.NewLocalCounter()
}

func buildSchema(cfg *config.Config) (executor.Schema, error) {
	calls := make([]eowc.WindowFuncCall, len(cfg.Operator.Calls))
	for i, c := range cfg.Operator.Calls {
		kind, err := parseCallKind(c.Kind)
		if err != nil {
			return executor.Schema{}, err
		}
		calls[i] = eowc.WindowFuncCall{
			Kind:     kind,
			ArgIndex: c.ArgIndex,
			Offset:   c.Offset,
			Frame: eowc.FrameSpec{
				Preceding: c.Preceding,
				Following: c.Following,
			},
		}
	}
	return executor.Schema{
		PartitionKeyIndices: cfg.Operator.PartitionKeyIndices,
		OrderKeyIndex:       cfg.Operator.OrderKeyIndex,
		InputPKIndices:      cfg.Operator.InputPKIndices,
		Calls:               calls,
	}, nil
}

func parseCallKind(name string) (eowc.CallKind, error) {
	switch name {
	case "lag":
		return eowc.CallLag, nil
	case "lead":
		return eowc.CallLead, nil
	case "row_number":
		return eowc.CallRowNumber, nil
	case "rank":
		return eowc.CallRank, nil
	case "dense_rank":
		return eowc.CallDenseRank, nil
	case "sum":
		return eowc.CallSum, nil
	case "count":
		return eowc.CallCount, nil
	case "avg":
		return eowc.CallAvg, nil
	case "min":
		return eowc.CallMin, nil
	case "max":
		return eowc.CallMax, nil
	default:
		return 0, eowc.NewContractViolation(eowc.ErrUnknownCallKind)
	}
}

// buildLocalTransport wires the in-process channel transport used for
// local/dev running, since no upstream network protocol is part of this
// operator's scope (see SPEC_FULL.md §6).
func buildLocalTransport() (eowc.MessageSource, eowc.MessageSink) {
	msgCh := make(chan eowc.Message)
	rowCh := make(chan eowc.DrainResult, 256)
	barrierCh := make(chan uint64, 16)
	go func() {
		for range rowCh {
		}
	}()
	go func() {
		for range barrierCh {
		}
	}()
	return eowc.NewChanSource(msgCh), eowc.NewChanSink(rowCh, barrierCh)
}
