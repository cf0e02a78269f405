package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	gruntime "runtime"
	"syscall"

	"github.com/zoobzio/clockz"
	"golang.org/x/sys/unix"

	"rtsupervisor/internal/catalog"
	"rtsupervisor/internal/config"
	"rtsupervisor/internal/eventqueue"
	"rtsupervisor/internal/frontend"
	"rtsupervisor/internal/logging"
	"rtsupervisor/internal/runtime"
	"rtsupervisor/internal/supervisor"
)

func main() {
	cfg := config.FromEnv()
	logger := logging.New(os.Stderr, os.Getenv("RTSUP_DEBUG") != "")

	gruntime.GOMAXPROCS(1)
	if err := pinToCore(cfg.CPUPinCore); err != nil {
		logger.Warning().Err(err).Log("cpu affinity pin failed, continuing unpinned")
	}

	cat, err := catalog.New(catalog.DefaultCatalog)
	if err != nil {
		logger.Err().Err(err).Log("invalid task catalog")
		os.Exit(1)
	}

	loopsPerMs, err := cat.Calibrate(clockz.RealClock, cfg.CalibrateFor)
	if err != nil {
		logger.Err().Err(err).Log("workload calibration failed")
		os.Exit(1)
	}
	logger.Info().Uint64("loops_per_ms", loopsPerMs).Log("workload calibrated")

	pool := runtime.New(cfg, clockz.RealClock, cat.Workload, logger)
	_ = pool.OnDeadlineMiss(func(_ context.Context, ev runtime.DeadlineMissEvent) error {
		logger.Warning().
			Str("task", ev.TaskName).
			Uint64("instance_id", ev.InstanceID).
			Dur("response_time", ev.ResponseTime).
			Dur("overrun_by", ev.OverrunBy).
			Log("deadline miss")
		return nil
	})

	queue := eventqueue.New(cfg.MaxQueueSize)
	sup := supervisor.New(cat, queue, pool, logger, cfg.MaxInstances, loopsPerMs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ServerPort))
	if err != nil {
		logger.Err().Err(err).Log("bind failed")
		os.Exit(1)
	}

	fe := frontend.New(queue, logger, cfg.MaxClients, cfg.NetBufferSize)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Log("signal received, shutting down")
		cancel()
		ln.Close()
	}()

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- fe.Serve(ctx, ln)
	}()

	logger.Info().Int("port", cfg.ServerPort).Log("listening")

	// A client-issued SHUTDOWN ends Run without ever canceling ctx or
	// closing ln, so supDone must also trigger the same teardown the
	// signal handler uses, or the listener (and any connection accepted
	// after the supervisor loop already exited) would hang forever.
	select {
	case <-supDone:
		cancel()
		ln.Close()
		if err := <-serveErrCh; err != nil {
			logger.Err().Err(err).Log("accept loop exited")
		}
	case err := <-serveErrCh:
		if err != nil {
			logger.Err().Err(err).Log("accept loop exited")
		}
		cancel()
		<-supDone
	}
}

// pinToCore sets the process's CPU affinity to a single core so the
// single-processor assumption behind the admission controller holds.
func pinToCore(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
