// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linux-automation/tacd-go/internal/adc"
	"github.com/linux-automation/tacd-go/internal/adc/iiodemo"
	"github.com/linux-automation/tacd-go/internal/adc/iiohardware"
	"github.com/linux-automation/tacd-go/internal/broker"
	"github.com/linux-automation/tacd-go/internal/config"
	"github.com/linux-automation/tacd-go/internal/dutpower"
	"github.com/linux-automation/tacd-go/internal/gpio"
	"github.com/linux-automation/tacd-go/internal/gpio/gpiostub"
	"github.com/linux-automation/tacd-go/internal/tasks"
	"github.com/linux-automation/tacd-go/internal/watchdog"
	"github.com/linux-automation/tacd-go/pkg/log"
	"github.com/linux-automation/tacd-go/pkg/runtimeEnv"
)

func main() {
	flagEnvFile := flag.String("env", "./.env", "Path to an optional .env file")
	flagDemoMode := flag.Bool("demo-mode", false, "Run against synthetic ADC/GPIO backends instead of real hardware")
	flag.Parse()

	cfg, err := config.Load(*flagEnvFile)
	if err != nil {
		log.Fatalf("loading configuration: %s", err)
	}

	builder := broker.NewBuilder()

	var dev adc.Device
	var pwrLine, dischargeLine gpio.Line

	if *flagDemoMode {
		dev = iiodemo.New()
		pwrLine = gpiostub.OpenOutput("IO0")
		dischargeLine = gpiostub.OpenOutput("IO1")
	} else {
		hwDev, err := iiohardware.New()
		if err != nil {
			log.Fatalf("opening ADC hardware: %s", err)
		}
		dev = hwDev

		hwPwr, err := gpio.OpenOutput(0, 0)
		if err != nil {
			log.Fatalf("opening power GPIO line: %s", err)
		}
		hwDischarge, err := gpio.OpenOutput(1, 0)
		if err != nil {
			log.Fatalf("opening discharge GPIO line: %s", err)
		}
		pwrLine = hwPwr
		dischargeLine = hwDischarge
	}

	adcComponent := adc.New(builder, dev, cfg.SampleFrequency, cfg.RTPriority)
	defer adcComponent.Stop()

	pwrVolt := adcComponent.Channels["pwr-volt"].Fast
	pwrCurr := adcComponent.Channels["pwr-curr"].Fast

	supervisor := dutpower.New(builder, pwrLine, dischargeLine, pwrVolt, pwrCurr)
	defer supervisor.Stop()

	sealed := builder.Seal(prometheus.DefaultRegisterer)

	// The listener is bound while still privileged (it may need a reserved
	// port), and privileges are dropped right after, before any request is
	// served.
	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatalf("binding HTTP listener on %q: %s", cfg.HTTPAddr, err)
	}

	if cfg.User != "" || cfg.Group != "" {
		if err := runtimeEnv.DropPrivileges(cfg.User, cfg.Group); err != nil {
			log.Fatalf("dropping privileges: %s", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group := tasks.NewGroup(ctx)

	group.Spawn("persistence", func(ctx context.Context) error {
		return broker.RunPersistence(ctx, cfg.StateFile, sealed)
	})

	supervisor.RegisterStatePublishTask(group.Context())

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("creating scheduler: %s", err)
	}
	if err := adcComponent.RegisterPublishTask(sched); err != nil {
		log.Fatalf("scheduling ADC publish task: %s", err)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(time.Second),
		gocron.NewTask(sealed.RefreshMetrics),
	); err != nil {
		log.Fatalf("scheduling metrics refresh task: %s", err)
	}
	sched.Start()
	defer sched.Shutdown()

	group.Spawn("watchdog", func(ctx context.Context) error {
		return watchdog.KeepFed(ctx, supervisor)
	})

	router := sealed.NewRouter()
	router.Path("/v1/metrics").Handler(broker.NewMetricsHandler())
	router.Path("/v1/mqtt").HandlerFunc(sealed.MQTTHandler())

	handler := handlers.CompressHandler(handlers.CORS(
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"}),
	)(router))

	httpServer := &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	group.Spawn("http", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.Serve(listener) }()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("received shutdown signal")
		cancel()
	}()

	if err := group.Wait(); err != nil {
		log.Errorf("exiting due to task failure: %s", err)
		os.Exit(1)
	}

	log.Info("graceful shutdown completed")
}
