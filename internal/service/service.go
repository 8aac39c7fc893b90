package service

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"

	"notification-inspector/internal/capture"
	"notification-inspector/internal/config"
	"notification-inspector/internal/events"
	"notification-inspector/internal/gateway"
	"notification-inspector/internal/logging"
	"notification-inspector/internal/policy"
	"notification-inspector/internal/status"
	"notification-inspector/internal/viewer"
)

// Service owns the event store and everything attached to it. The store is
// created here and handed to the capture side and the viewer explicitly.
type Service struct {
	cfg      *config.Config
	log      *logging.Logger
	instance string

	store    *events.Store
	rules    *policy.Store
	enabled  *status.Flag
	tracker  *status.Tracker
	adapter  *capture.Adapter
	resolver *capture.ProcessResolver
	view     *viewer.Server

	// probe is replaced in tests.
	probe func(ctx context.Context) (bool, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, logger *logging.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:      cfg,
		log:      logger,
		instance: uuid.NewString(),
		store:    events.NewStore(cfg.MaxEvents),
		rules:    policy.NewStore(),
		enabled:  status.NewFlag(false),
		resolver: capture.NewProcessResolver(),
		probe:    capture.Probe,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.tracker = status.NewTracker(s.enabled, status.NewFlag(false))
	s.adapter = &capture.Adapter{
		Builder: capture.Builder{Resolve: s.resolver.Resolve},
		Filter:  s.rules.Apply,
		Sink:    s.store,
		Log:     logger.With("component", "capture"),
	}
	s.view = viewer.New(s.store, s.tracker, s.exportSnapshot, logger.With("component", "viewer"))

	if cfg.RulesPath != "" {
		if err := s.rules.LoadFile(cfg.RulesPath); err != nil {
			s.log.Error("failed to load capture rules", "path", cfg.RulesPath, "err", err)
		}
	}
	s.tracker.OnChange(func(st status.ConnectionState) {
		s.log.Info("connection state changed", "state", st.String())
	})
	return s
}

func (s *Service) Store() *events.Store { return s.store }

// Run blocks until Stop is called or the viewer fails to start.
func (s *Service) Run() {
	s.log.Info("service starting", "instance", s.instance, "max_events", s.cfg.MaxEvents)
	defer s.resolver.Close()

	if s.cfg.RulesPath != "" {
		s.goRun(func(ctx context.Context) {
			if err := s.rules.Watch(ctx, s.cfg.RulesPath, s.log); err != nil {
				s.log.Warn("rules watch unavailable", "path", s.cfg.RulesPath, "err", err)
			}
		})
	}
	if s.cfg.RulesURL != "" {
		s.goRun(func(ctx context.Context) {
			s.rules.Poll(ctx, s.cfg.RulesURL, time.Duration(s.cfg.RulesPollSeconds)*time.Second, s.log)
		})
	}

	s.checkPermission()
	s.goRun(func(ctx context.Context) {
		every(ctx, time.Duration(s.cfg.StatusCheckSeconds)*time.Second, s.checkPermission)
	})

	if s.cfg.CaptureEnabled {
		src := &capture.DBusSource{Adapter: s.adapter, Connected: s.tracker.Connected, Log: s.log.With("component", "dbus")}
		s.goRun(src.Run)
	} else {
		s.log.Info("capture disabled by config")
	}

	if s.cfg.GatewayURL != "" {
		fw := gateway.NewForwarder(gateway.NewHTTPClient(s.cfg.GatewayURL, s.instance), s.cfg.GatewayRatePerSec, s.log.With("component", "gateway"))
		s.goRun(func(ctx context.Context) { fw.Run(ctx, s.store) })
	}

	s.goRun(func(ctx context.Context) {
		if err := s.view.Serve(ctx, s.cfg.ListenAddr); err != nil {
			s.log.Error("viewer failed", "addr", s.cfg.ListenAddr, "err", err)
			s.cancel()
		}
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		s.log.Debug("sd_notify failed", "err", err)
	} else if ok {
		s.log.Debug("readiness reported to systemd")
	}

	<-s.ctx.Done()
	s.log.Info("service stopping")
	s.wg.Wait()
	s.tracker.Close()
}

func (s *Service) goRun(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// checkPermission refreshes the "capture permitted" flag: capture must be
// enabled in config and a notification server must be on the session bus.
func (s *Service) checkPermission() {
	if !s.cfg.CaptureEnabled {
		s.enabled.Set(false)
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	ok, err := s.probe(ctx)
	if err != nil {
		s.log.Debug("permission probe failed", "err", err)
	}
	s.enabled.Set(ok)
}

func (s *Service) exportSnapshot(ctx context.Context, snap events.Snapshot) (string, error) {
	x, err := events.OpenExport(s.cfg.ExportPath)
	if err != nil {
		return "", err
	}
	defer x.Close()
	if err := x.Write(ctx, snap); err != nil {
		return "", err
	}
	return s.cfg.ExportPath, nil
}

func (s *Service) Stop() {
	s.cancel()
}
