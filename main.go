// Command intersection runs the adaptive traffic-control core for a four-way
// signalized intersection: a detection worker over the approach cameras, the
// phase state machine driving the microcontroller's lights, IR violation
// capture, and an HTTP presenter surface.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/intersection/api"
	"github.com/banshee-data/intersection/internal/config"
	"github.com/banshee-data/intersection/internal/traffic"
	"github.com/banshee-data/intersection/internal/version"
	"github.com/banshee-data/intersection/internal/violations"
	"github.com/banshee-data/intersection/internal/vision"
)

var (
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	modelPath  = flag.String("model", "yolov8n.onnx", "Path to the ONNX detector weights")
	classNames = flag.String("names", "coco.names", "Path to the line-delimited class-name file")
	serialPort = flag.String("serial", "", "Serial port of the microcontroller (empty picks the first available)")
	simulation = flag.Bool("simulation", false, "Run without the microcontroller link")
	cameras    = flag.String("cameras", "", "Comma-separated camera URIs for approaches 0..3 (blank entries stay disconnected)")
	configPath = flag.String("config", "", "Optional tuning config JSON")
	autostart  = flag.Bool("start", true, "Start the signal cycle immediately")
)

func main() {
	flag.Parse()
	log.Printf("intersection %s (%s)", version.Version, version.GitSHA)

	tuning := config.Empty()
	if *configPath != "" {
		var err error
		tuning, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	detector, err := vision.NewDetector(*modelPath, *classNames)
	if err != nil {
		log.Fatalf("failed to initialize detector: %v", err)
	}
	defer detector.Close()

	// Violation storage degrades: without a store violations are still
	// emitted, just not persisted.
	var store *violations.Store
	if dir, err := violations.DefaultDir(); err != nil {
		log.Printf("violation storage disabled: failed to resolve directory: %v", err)
	} else if store, err = violations.NewStore(dir); err != nil {
		log.Printf("violation storage disabled: failed to open store %s: %v", dir, err)
		store = nil
	} else {
		defer store.Close()
		log.Printf("violations recorded under %s", filepath.Clean(dir))
	}

	var sys *traffic.System
	worker := vision.NewWorker(detector, func(message, level string) {
		log.Printf("[worker/%s] %s", level, message)
		if sys != nil {
			sys.PublishLog(message, level)
		}
	})
	worker.SetThresholds(float32(tuning.GetConfidenceThreshold()), float32(tuning.GetNMSThreshold()))

	sys = traffic.NewSystem(worker, store, tuning)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.Run(ctx)
		return nil
	})

	g.Go(func() error {
		err := sys.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	// HTTP presenter surface
	g.Go(func() error {
		mux := http.NewServeMux()
		apiMux := api.NewServer(sys, store).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{Addr: *listen, Handler: mux}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Operator-facing setup runs once the control loop is live.
	g.Go(func() error {
		setup(ctx, sys, tuning)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("shutdown with error: %v", err)
	}
	log.Print("graceful shutdown complete")
}

// setup applies the command-line wiring: cameras, the serial link, and the
// initial start. Failures degrade rather than abort; the controller keeps
// operating on whatever connected.
func setup(ctx context.Context, sys *traffic.System, tuning *config.Tuning) {
	if *cameras != "" {
		for i, uri := range strings.Split(*cameras, ",") {
			if i >= traffic.NumApproaches {
				break
			}
			uri = strings.TrimSpace(uri)
			if uri == "" {
				continue
			}
			if err := sys.ConnectCamera(i, uri); err != nil {
				log.Printf("camera %d: %v", i, err)
			}
		}
	}

	if *simulation {
		sys.SetSimulationMode(true)
	} else {
		port := *serialPort
		if port == "" {
			port = tuning.GetSerialPort()
		}
		if err := sys.InitializeArduino(port); err != nil {
			log.Printf("microcontroller link unavailable, continuing in simulation: %v", err)
		}
	}

	if *autostart && ctx.Err() == nil {
		sys.Start()
	}
}
