package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/Brownie44l1/clothing-api/internal/classifier"
	"github.com/Brownie44l1/clothing-api/internal/config"
	"github.com/Brownie44l1/clothing-api/internal/fetch"
	"github.com/Brownie44l1/clothing-api/internal/handlers"
	"github.com/Brownie44l1/clothing-api/internal/model"
)

type ServeOptions struct {
	ConfigPath  string
	Port        int
	ModelPath   string
	LibraryPath string
	Workers     int
	MaxPixels   int64
}

func NewCmdServe() *cobra.Command {
	return newServeCommand(&ServeOptions{})
}

func newServeCommand(o *ServeOptions) *cobra.Command {
	command := &cobra.Command{
		Use:   "serve",
		Short: "run the prediction server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.Config(cmd)
			if err != nil {
				return err
			}
			return Run(signals.SetupSignalHandler(), cfg)
		},
	}

	flags := command.Flags()
	flags.StringVarP(&o.ConfigPath, "config", "c", "", "YAML config file")
	flags.IntVar(&o.Port, "port", 0, "listen port (default 8080)")
	flags.StringVar(&o.ModelPath, "model", "", "path to the ONNX model (env MODEL_NAME)")
	flags.StringVar(&o.LibraryPath, "onnxruntime-lib", "", "path to the onnxruntime shared library (env ONNXRUNTIME_LIB)")
	flags.IntVar(&o.Workers, "workers", 0, "number of concurrent model sessions")
	flags.Int64Var(&o.MaxPixels, "max-pixels", 0, "largest accepted image in pixels (default 40000000)")
	return command
}

// Config loads the file and environment settings and applies any flags the
// user set explicitly.
func (o *ServeOptions) Config(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = o.Port
	}
	if flags.Changed("model") {
		cfg.Model.Path = o.ModelPath
	}
	if flags.Changed("onnxruntime-lib") {
		cfg.Model.LibraryPath = o.LibraryPath
	}
	if flags.Changed("workers") {
		cfg.Model.Workers = o.Workers
	}
	if flags.Changed("max-pixels") {
		cfg.Fetch.MaxPixels = o.MaxPixels
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Run serves until ctx is done. The listener comes up before the model is
// loaded so probes get an honest 503 while loading; a load failure stops the
// server and returns the error.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := klog.FromContext(ctx)
	gin.SetMode(gin.ReleaseMode)

	handler := handlers.NewHandler(logger.WithName("http"))
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind before loading the model so a taken port fails at once.
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", server.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("listen and serve error: %w", err)
		}
		close(serveErr)
	}()

	logger.Info("loading model", "path", cfg.Model.Path)
	modelServer, err := model.Load(ctx, cfg.ModelOptions())
	if err != nil {
		shutdown(logger, server, cfg.ShutdownTimeout)
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer modelServer.Close()

	svc := classifier.New(fetch.New(cfg.FetchOptions()), modelServer, cfg.ClassifierOptions())
	handler.Serve(svc)
	logger.Info("endpoints", "health", "GET /health", "predict", "POST /predict", "metrics", "GET /metrics",
		"classes", modelServer.Classes())

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdown(logger, server, cfg.ShutdownTimeout)
	return <-serveErr
}

func shutdown(logger klog.Logger, server *http.Server, timeout time.Duration) {
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error(err, "failed to gracefully shutdown")
	}
}
