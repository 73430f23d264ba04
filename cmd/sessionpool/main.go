package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/guileen/sessionpool/api"
	"github.com/guileen/sessionpool/config"
	"github.com/guileen/sessionpool/logger"
	"github.com/guileen/sessionpool/manager"
	"github.com/guileen/sessionpool/network"
	"github.com/guileen/sessionpool/session"
	_ "github.com/guileen/sessionpool/session/pgxsession"
	_ "github.com/guileen/sessionpool/session/sqlsession"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		logger.Error("sessionpool failed", logger.ErrorField(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logConfig := logger.LoadConfig()
	if level, ok := logger.ParseLevel(cfg.Logging.Level); ok {
		logConfig.Level = level
	}
	if cfg.Logging.Format != "" {
		logConfig.Format = cfg.Logging.Format
	}
	logger.SetLogger(logger.NewLogger(logConfig))

	mgr, err := manager.Open(cfg.Driver, cfg.Descriptor)
	if err != nil {
		return err
	}
	logger.Info("connection manager ready", logger.Driver(cfg.Driver), logger.String("manager", mgr.String()))

	pool := network.NewConnectionPool[manager.Conn](cfg.PoolConfig(), mgr)
	defer pool.Close()

	one, err := network.Run(ctx, pool, selectOne)
	if err != nil {
		return fmt.Errorf("select one: %w", err)
	}
	fmt.Fprintln(stdout, one)

	if cfg.Listen == "" {
		return nil
	}
	return serve(ctx, cfg.Listen, pool)
}

func loadConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("sessionpool", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	driver := fs.String("driver", "", "session driver ("+fmt.Sprint(session.Drivers())+")")
	descriptor := fs.String("descriptor", "", "connection descriptor passed to the driver")
	listen := fs.String("listen", "", "address for the status HTTP server")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()

	if *driver != "" {
		cfg.Driver = *driver
	}
	if *descriptor != "" {
		cfg.Descriptor = *descriptor
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	return cfg, cfg.Validate()
}

// selectOne runs SELECT 1 and collects the first column. A connection whose
// query failed is handed back poisoned.
func selectOne(ctx context.Context, conn manager.Conn) ([]int64, manager.Conn, error) {
	rows, err := conn.Query(ctx, "SELECT 1")
	if err != nil {
		return nil, conn.Poison(ctx), err
	}
	out, err := session.Collect(rows, func(values []any) (int64, error) {
		if len(values) == 0 {
			return 0, errors.New("empty row")
		}
		return asInt64(values[0])
	})
	if err != nil {
		return nil, conn.Poison(ctx), err
	}
	return out, conn, nil
}

// asInt64 normalises the integer types drivers return for a literal.
func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unexpected column type %T", v)
}

func serve(ctx context.Context, addr string, pool *network.ConnectionPool[manager.Conn]) error {
	status, err := api.NewStatusHandler(pool.Config().Name, pool)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           status.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("status server listening", logger.String("addr", addr))
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down status server")
	return server.Shutdown(shutdownCtx)
}
