package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/api"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/config"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/db"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/publisher"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/serialmux"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/alarm"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/processor"
)

const defaultDBPath = "grideye.db"

type serveOptions struct {
	configPath    string
	port          string
	listen        string
	grpcListen    string
	dbPath        string
	demo          bool
	disableSerial bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node: serial input, detection, web UI and frame stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.listen == "" {
				return errors.New("listen address is required")
			}
			if opts.demo && opts.disableSerial {
				return errors.New("--demo and --disable-serial are mutually exclusive")
			}
			return runServe(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", config.DefaultConfigPath, "Path to the JSON configuration file")
	f.StringVar(&opts.port, "port", "", "Serial port to use (overrides the config file)")
	f.StringVar(&opts.listen, "listen", ":8080", "HTTP listen address")
	f.StringVar(&opts.grpcListen, "grpc-listen", "", "gRPC frame stream listen address (disabled when empty)")
	f.StringVar(&opts.dbPath, "db-path", defaultDBPath, "Path to the SQLite database")
	f.BoolVar(&opts.demo, "demo", false, "Read from a synthetic scene instead of the board")
	f.BoolVar(&opts.disableSerial, "disable-serial", false, "Run without any reading source")
	return cmd
}

// loadProcessorConfig merges the file configuration with what the node
// stored at runtime: engine overrides, relay state and the alarm zone.
func loadProcessorConfig(fileCfg *config.ProcessorConfig, database *db.DB) (processor.Config, error) {
	cfg, err := fileCfg.Processor()
	if err != nil {
		return processor.Config{}, err
	}

	raw, err := database.GetSetting(db.SettingProcessor)
	if err != nil {
		return processor.Config{}, err
	}
	if raw != nil {
		overrides, err := config.ParseProcessorConfig(raw)
		if err == nil {
			cfg.Engine, err = overrides.ApplyEngine(cfg.Engine)
		}
		if err != nil {
			log.Printf("ignoring stored engine settings: %v", err)
		}
	}

	relays, ok, err := database.RelayState()
	if err != nil {
		return processor.Config{}, err
	}
	if ok {
		cfg.Relays = relays
	}

	saved, err := database.HasAlarmMask()
	if err != nil {
		return processor.Config{}, err
	}
	if saved {
		if cfg.AlarmMask, err = database.AlarmMask(); err != nil {
			return processor.Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

func openSerial(opts serveOptions, fileCfg *config.ProcessorConfig) (serialmux.SerialMuxInterface, error) {
	switch {
	case opts.disableSerial:
		return serialmux.NewDisabledSerialMux(), nil
	case opts.demo:
		return serialmux.NewSerialMux(device.NewSyntheticPort(device.DefaultSyntheticOptions(), nil)), nil
	}
	path := opts.port
	if path == "" {
		path = fileCfg.GetSerialPath()
	}
	log.Printf("opening relay board on %s (%s)", path, fileCfg.PortOptions())
	m, err := serialmux.NewRealSerialMux(path, fileCfg.PortOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return m, nil
}

// persistence returns the processor sinks that keep the node's state in the
// database.
func persistence(database *db.DB) processor.Sinks {
	return processor.Sinks{
		Alarm: func(ev processor.AlarmEvent) {
			if err := database.RecordAlarmEvent(&db.AlarmEvent{Kind: ev.Kind, Time: ev.Time, Points: ev.Points}); err != nil {
				log.Printf("failed to record alarm event: %v", err)
			}
		},
		Relays: func(r device.Relays) {
			if err := database.SaveRelayState(r); err != nil {
				log.Printf("failed to save relay state: %v", err)
			}
		},
		Mask: func(cells []alarm.Cell) {
			if err := database.SaveAlarmMask(cells); err != nil {
				log.Printf("failed to save alarm zone: %v", err)
			}
		},
		Engine: func(cfg processor.EngineConfig) {
			if err := database.PutSetting(db.SettingProcessor, config.EngineOverrides(cfg)); err != nil {
				log.Printf("failed to save engine settings: %v", err)
			}
		},
	}
}

// forwardReadings decodes serial payloads into readings until ctx ends.
func forwardReadings(ctx context.Context, payloads <-chan string, readings chan<- device.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-payloads:
			if !ok {
				return
			}
			r, err := device.DecodeReading([]byte(payload))
			if err != nil {
				log.Printf("[serial] dropping payload: %v", err)
				continue
			}
			select {
			case readings <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

func runServe(ctx context.Context, opts serveOptions) error {
	fileCfg, err := config.LoadProcessorConfig(opts.configPath)
	if err != nil {
		return err
	}

	database, err := db.NewDB(opts.dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	cfg, err := loadProcessorConfig(fileCfg, database)
	if err != nil {
		return err
	}

	serialMux, err := openSerial(opts, fileCfg)
	if err != nil {
		return err
	}
	defer serialMux.Close()

	hub := api.NewHub()
	var pub *publisher.Publisher
	if opts.grpcListen != "" {
		pcfg := publisher.DefaultConfig()
		pcfg.ListenAddr = opts.grpcListen
		pub = publisher.NewPublisher(pcfg)
		if err := pub.Start(); err != nil {
			return err
		}
		defer pub.Stop()
	}

	sinks := persistence(database)
	sinks.UI = func(m processor.Message) {
		hub.Broadcast(m)
		if pub != nil {
			pub.Publish(m)
		}
	}
	sinks.Device = func(b []byte) error {
		return serialMux.SendCommand(string(device.BoardCommand(b)))
	}
	proc, err := processor.New(cfg, sinks, nil)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serialMux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	readings := make(chan device.Reading)
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, payloads := serialMux.Subscribe()
		defer serialMux.Unsubscribe(id)
		forwardReadings(ctx, payloads, readings)
		log.Printf("subscribe routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := proc.Run(ctx, readings); err != nil {
			log.Printf("processor stopped: %v", err)
		}
	}()

	mux := api.NewServer(proc, database, hub).ServeMux()
	serialMux.AttachAdminRoutes(mux)
	database.AttachAdminRoutes(mux)

	server := &http.Server{
		Addr:              opts.listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", opts.listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		log.Printf("HTTP server failed: %v", err)
	}
	cancel()
	log.Println("shutting down HTTP server...")
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return err
}
