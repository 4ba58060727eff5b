package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/termdeck/termdeck/internal/client"
	"github.com/termdeck/termdeck/internal/config"
	"github.com/termdeck/termdeck/internal/daemon"
	"github.com/termdeck/termdeck/internal/manager"
	"github.com/termdeck/termdeck/internal/preflight"
	"github.com/termdeck/termdeck/internal/server"
	"github.com/termdeck/termdeck/internal/service"
	"github.com/termdeck/termdeck/internal/store"
)

func main() {
	// Subcommand dispatch: "termdeck daemon" runs the session daemon.
	if len(os.Args) > 1 && os.Args[1] == "daemon" {
		if err := runDaemon(); err != nil {
			fmt.Fprintf(os.Stderr, "daemon failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := buildLogger(cfg.LogLevel)
	defer log.Sync()

	if shell, ok := preflight.DefaultShell(); ok {
		log.Info("default shell", zap.String("shell", shell))
	} else {
		log.Warn("no usable shell found on PATH; terminal creation will fail")
	}

	cli, err := connectOrStartDaemon(cfg, log)
	if err != nil {
		log.Fatal("session daemon unavailable", zap.Error(err))
	}

	svc := service.New(cli, service.Config{MaxSessions: cfg.MaxSessions}, log)
	svc.Initialize()

	srv := server.New(svc, log)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler: loggingMiddleware(log, recoveryMiddleware(log, srv)),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info("shutting down", zap.String("signal", sig.String()))

		// Kill every live session best-effort, then drop the daemon
		// connection and stop serving.
		svc.CloseAllTerminals()
		svc.Destroy()
		cli.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}()

	log.Info("termdeck running", zap.String("addr", httpSrv.Addr))
	if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server stopped")
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := buildLogger(cfg.LogLevel)
	defer log.Sync()

	journal, err := store.Open(cfg.DBPath)
	if err != nil {
		// The journal is bookkeeping, not a dependency; run without it.
		log.Warn("session journal unavailable", zap.Error(err))
		journal = nil
	} else {
		defer journal.Close()
	}

	d := daemon.New(daemon.Config{
		SocketPath: cfg.SocketPath,
		PIDPath:    cfg.PIDPath,
		Manager: manager.Config{
			MaxSessions: cfg.MaxSessions,
			DefaultCols: cfg.DefaultCols,
			DefaultRows: cfg.DefaultRows,
		},
	}, journal, log)
	return d.Run()
}

// connectOrStartDaemon connects to a running daemon or spawns one detached
// and waits for it to answer.
func connectOrStartDaemon(cfg config.Config, log *zap.Logger) (*client.Client, error) {
	cli, err := client.Dial(cfg.SocketPath, log)
	if err == nil {
		if err := cli.Ping(); err == nil {
			log.Info("connected to existing session daemon")
			return cli, nil
		}
		cli.Shutdown()
	}

	log.Info("starting session daemon")
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("get executable path: %w", err)
	}

	cmd := exec.Command(exe, "daemon")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start daemon: %w", err)
	}
	cmd.Process.Release()

	for i := 0; i < 40; i++ { // 40 * 50ms = 2s
		time.Sleep(50 * time.Millisecond)
		cli, err = client.Dial(cfg.SocketPath, log)
		if err == nil {
			if err := cli.Ping(); err == nil {
				log.Info("session daemon started")
				return cli, nil
			}
			cli.Shutdown()
		}
	}
	return nil, fmt.Errorf("daemon did not become available within 2s")
}

func buildLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func loggingMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(rw, r)

		// WebSocket upgrades log their own lifecycle.
		if r.Header.Get("Upgrade") == "websocket" {
			return
		}
		log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)))
	})
}

func recoveryMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic in handler",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Implement http.Hijacker so WebSocket upgrades work through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}
