package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-webcheck/metrics"
)

const (
	DefaultHost        = "0.0.0.0"
	DefaultHealthzPort = 8080
	DefaultMetricsPort = 7300
)

type Config struct {
	Enabled     bool
	Host        string
	HealthzPort int
	MetricsPort int
}

// Service runs the healthz and metrics servers next to a long run.
type Service struct {
	cfg     Config
	log     log.Logger
	Healthz *HealthzServer
	Metrics *MetricsServer
}

func New(cfg Config, l log.Logger) *Service {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.HealthzPort == 0 {
		cfg.HealthzPort = DefaultHealthzPort
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = DefaultMetricsPort
	}
	l = l.New("component", "service")
	return &Service{
		cfg:     cfg,
		log:     l,
		Healthz: NewHealthzServer(l),
		Metrics: NewMetricsServer(nil),
	}
}

func (s *Service) Start() {
	if !s.cfg.Enabled {
		return
	}
	s.log.Info("service starting")

	serve := func(name string, port int, start func(string) error) {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
		s.log.Info("starting "+name+" server", "addr", addr)
		go func() {
			if err := start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting "+name+" server", "err", err)
				metrics.RecordErrorDetails("error starting "+name+" server", err)
			}
		}()
	}
	serve("healthz", s.cfg.HealthzPort, s.Healthz.Start)
	serve("metrics", s.cfg.MetricsPort, s.Metrics.Start)

	s.log.Info("service started")
}

func (s *Service) Shutdown(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	s.log.Info("service shutting down")
	s.Healthz.Drain()
	_ = s.Healthz.Shutdown(ctx)
	_ = s.Metrics.Shutdown(ctx)
	s.log.Info("service stopped")
}
