// Command evbuf-demo runs a randomized workload of account commands against
// the configured event store and prints throughput and a sample statement.
//
//	EVBUF_STORE=sqlite EVBUF_PATH=/tmp/evbuf.db EVBUF_METRICS_ADDR=:9090 evbuf-demo
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	evprom "github.com/codewandler/evbuf-go/adapters/prometheus"
	"github.com/codewandler/evbuf-go/core/command"
	"github.com/codewandler/evbuf-go/core/es"
	"github.com/codewandler/evbuf-go/core/es/validation"
	"github.com/codewandler/evbuf-go/examples/accounting"
	"github.com/codewandler/evbuf-go/internal/config"
)

type workload struct {
	Accounts int `env:"DEMO_ACCOUNTS" envDefault:"10"`
	Ops      int `env:"DEMO_OPS" envDefault:"2000"`
	Workers  int `env:"DEMO_WORKERS" envDefault:"8"`
	// Batch is the number of operations between progress lines.
	Batch int `env:"DEMO_BATCH" envDefault:"500"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "evbuf-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	wl, err := env.ParseAs[workload]()
	if err != nil {
		return fmt.Errorf("parse workload: %w", err)
	}
	if wl.Accounts <= 0 || wl.Workers <= 0 || wl.Batch <= 0 {
		return errors.New("DEMO_ACCOUNTS, DEMO_WORKERS and DEMO_BATCH must be positive")
	}

	log := cfg.Logger(os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := evprom.NewAllMetrics(reg)

	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, reg, log)
		defer shutdown()
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("close store", slog.Any("error", err))
		}
	}()

	repoOpts := []es.RepositoryOption{es.WithLogger(log), es.WithMetrics(m.ES)}
	if cfg.CacheSize > 0 {
		repoOpts = append(repoOpts, es.WithCacheLRU(cfg.CacheSize))
	}
	repo := accounting.NewRepository(es.InstrumentStore(store, m.ES), repoOpts...)
	handlers := accounting.NewHandlers(repo, log)
	proc := handlers.NewProcessor(command.WithMetrics(m.Command))
	defer proc.Close()

	fmt.Printf("store: %s | accounts: %d | ops: %d | workers: %d\n", cfg.Store, wl.Accounts, wl.Ops, wl.Workers)

	ids := make([]uuid.UUID, wl.Accounts)
	for i := range ids {
		ids[i] = uuid.New()
		if err := proc.Send(ctx, accounting.OpenAccount{AccountID: ids[i], Owner: fmt.Sprintf("owner-%d", i), InitialDeposit: 1_000}); err != nil {
			return err
		}
	}

	st, err := drive(ctx, proc, ids, wl)
	if err != nil {
		return err
	}

	runtime.GC()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Println("==========================================")
	fmt.Printf("total runtime: %.3f seconds\n", st.took.Seconds())
	fmt.Printf("      applied: %d\n", st.ok.Load())
	fmt.Printf("     rejected: %d\n", st.rejected.Load())
	fmt.Printf("       failed: %d\n", st.failed.Load())
	fmt.Printf("avg. cmds/s  : %d\n", int(float64(wl.Ops)/st.took.Seconds()))
	fmt.Printf("heap alloc   : %d MiB\n", mem.Alloc/1024/1024)

	lines, err := accounting.Statement(ctx, store, ids[0])
	if err != nil {
		return err
	}
	fmt.Printf("\nstatement of %s (last 5 of %d)\n", ids[0], len(lines))
	for _, l := range lines[max(len(lines)-5, 0):] {
		fmt.Printf("  v%-5d %-16s %+8d  balance %8d\n", l.Version, l.Kind, l.Amount, l.Balance)
	}
	return nil
}

type stats struct {
	ok, rejected, failed atomic.Int64
	took                 time.Duration
}

// drive sends wl.Ops random deposits and withdrawals from wl.Workers
// goroutines.
func drive(ctx context.Context, proc *command.Processor, ids []uuid.UUID, wl workload) (*stats, error) {
	var (
		st      = &stats{}
		next    atomic.Int64
		wg      sync.WaitGroup
		startAt = time.Now()
		batchAt atomic.Int64
	)
	batchAt.Store(startAt.UnixNano())

	for range wl.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n := next.Add(1)
				if n > int64(wl.Ops) || ctx.Err() != nil {
					return
				}

				id := ids[rand.IntN(len(ids))]
				amount := int64(rand.IntN(500) + 1)
				var cmd any = accounting.Deposit{AccountID: id, Amount: amount}
				if rand.IntN(2) == 0 {
					cmd = accounting.Withdraw{AccountID: id, Amount: amount}
				}

				switch err := proc.Send(ctx, cmd); {
				case err == nil:
					st.ok.Add(1)
				case errors.Is(err, validation.ErrInvalid):
					st.rejected.Add(1)
				default:
					st.failed.Add(1)
					slog.Warn("command failed", slog.Any("error", err))
				}

				if n%int64(wl.Batch) == 0 {
					now := time.Now()
					took := now.Sub(time.Unix(0, batchAt.Swap(now.UnixNano())))
					fmt.Printf(" | %6d ops | %6d ms | %7d ops/s |\n", n, took.Milliseconds(), int(float64(wl.Batch)/took.Seconds()))
				}
			}
		}()
	}
	wg.Wait()
	st.took = time.Since(startAt)
	return st, ctx.Err()
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", slog.Any("error", err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
