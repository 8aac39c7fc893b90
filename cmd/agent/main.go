package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ks "github.com/kardianos/service"

	"notification-inspector/internal/config"
	"notification-inspector/internal/logging"
	agentservice "notification-inspector/internal/service"
)

type program struct {
	svc *agentservice.Service
}

func (p *program) Start(s ks.Service) error {
	// Start must not block.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	p.svc = agentservice.New(cfg, logging.New(cfg))
	go p.svc.Run()
	return nil
}

func (p *program) Stop(s ks.Service) error {
	if p.svc != nil {
		p.svc.Stop()
	}
	return nil
}

type runner interface {
	Run()
	Stop()
}

// runUntil runs r in the foreground until ctx is done, then stops it and
// waits for Run to return.
func runUntil(ctx context.Context, r runner) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run()
	}()
	select {
	case <-ctx.Done():
		r.Stop()
		<-done
	case <-done:
	}
}

func main() {
	install := flag.Bool("install", false, "install service")
	uninstall := flag.Bool("uninstall", false, "uninstall service")
	runNow := flag.Bool("run", false, "run in foreground")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Println("config load error:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg)

	svcConfig := &ks.Config{
		Name:        "NotificationInspector",
		DisplayName: "Notification Inspector",
		Description: "Captures desktop notification posts and removals for inspection",
		Option:      ks.KeyValue{"UserService": true},
	}

	prg := &program{}
	s, err := ks.New(prg, svcConfig)
	if err != nil {
		logger.Error("service.New failed", "err", err)
		os.Exit(1)
	}

	if *install {
		err = s.Install()
		if err != nil {
			logger.Error("install failed", "err", err)
		} else {
			logger.Info("service installed")
		}
		return
	}
	if *uninstall {
		err = s.Uninstall()
		if err != nil {
			logger.Error("uninstall failed", "err", err)
		} else {
			logger.Info("service uninstalled")
		}
		return
	}
	if *runNow {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runUntil(ctx, agentservice.New(cfg, logger))
		logger.Info("stopped")
		return
	}

	err = s.Run()
	if err != nil {
		logger.Error("service run error", "err", err)
	}
}
