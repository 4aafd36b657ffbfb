package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/rcdrive/internal/actuator"
	"github.com/banshee-data/rcdrive/internal/api"
	"github.com/banshee-data/rcdrive/internal/config"
	"github.com/banshee-data/rcdrive/internal/control"
	"github.com/banshee-data/rcdrive/internal/ibus"
	"github.com/banshee-data/rcdrive/internal/monitoring"
	"github.com/banshee-data/rcdrive/internal/pid"
	"github.com/banshee-data/rcdrive/internal/serialport"
	"github.com/banshee-data/rcdrive/internal/telemetry"
	"github.com/banshee-data/rcdrive/internal/timeutil"
	"github.com/banshee-data/rcdrive/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "JSON config file; empty uses built-in defaults")
	port        = flag.String("port", "", "iBus receiver serial port (overrides config, ignored in dev mode)")
	servoPort   = flag.String("servo-port", "", "Maestro servo controller serial port (overrides config, ignored in dev mode)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath      = flag.String("db", "", "Telemetry database path (overrides config)")
	recordEvery = flag.Duration("record-every", 100*time.Millisecond, "Minimum spacing between recorded telemetry samples")
	devMode     = flag.Bool("dev", false, "Drive a simulated transmitter and plant instead of serial hardware")
	showVersion = flag.Bool("version", false, "Print version and exit")
	verbose     = flag.Bool("verbose", false, "Log every loop step")
)

// applyOverrides copies the set command-line flags over cfg.
func applyOverrides(cfg *config.Config) {
	if *port != "" {
		cfg.ReceiverPort = port
	}
	if *servoPort != "" {
		cfg.ServoPort = servoPort
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.EmptyConfig(), nil
	}
	return config.LoadConfig(path)
}

func receiverConfig(cfg *config.Config, channels int) ibus.ReceiverConfig {
	return ibus.ReceiverConfig{
		Channels:        channels,
		Range:           cfg.GetRawRange(),
		FailsafeTimeout: cfg.GetFailsafeTimeout(),
		Failsafe:        cfg.FailsafeValues,
	}
}

// devSticks puts the simulated transmitter in a driving pose: motor
// enabled, rate limiter engaged and the command switch fully up.
func devSticks(tx *ibus.Transmitter, cfg *config.Config) error {
	raw := cfg.GetRawRange()
	for _, s := range []struct {
		ch int
		v  int
	}{
		{cfg.GetEnableChannel(), raw.Max},
		{cfg.GetLimiterChannel(), raw.Min},
		{cfg.GetCommandChannel(), raw.Max},
	} {
		if err := tx.Set(s.ch, uint16(s.v)); err != nil {
			return err
		}
	}
	return nil
}

// rig is the set of devices the loop drives.
type rig struct {
	receiver *ibus.Receiver
	motor    actuator.Sink
	led      actuator.Indicator
	feedback control.Feedback
	// run holds extra routines, such as the simulated transmitter.
	run     []func(ctx context.Context) error
	closers []io.Closer
}

func (r *rig) Close() {
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			monitoring.Logf("close: %v", err)
		}
	}
}

func openHardware(cfg *config.Config, channels int) (*rig, error) {
	if cfg.GetReceiverPort() == "" {
		return nil, errors.New("receiver port is required (set receiver_port or -port)")
	}
	if cfg.GetServoPort() == "" {
		return nil, errors.New("servo port is required (set servo_port or -servo-port)")
	}

	rxPort, err := serialport.Open(cfg.GetReceiverPort(), cfg.GetReceiverSerial())
	if err != nil {
		return nil, fmt.Errorf("failed to open receiver: %w", err)
	}
	r := &rig{closers: []io.Closer{rxPort}}

	r.receiver, err = ibus.NewReceiver(rxPort, receiverConfig(cfg, channels))
	if err != nil {
		r.Close()
		return nil, err
	}

	maestro, sp, err := actuator.OpenMaestro(cfg.GetServoPort(), cfg.GetServoSerial())
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open servo controller: %w", err)
	}
	r.closers = append(r.closers, sp)
	if err := maestro.SetPulseRange(cfg.GetPulseRange()); err != nil {
		r.Close()
		return nil, err
	}
	r.motor = maestro.Servo(uint8(cfg.GetMotorChannel()))
	r.led = maestro.Output(uint8(cfg.GetLEDChannel()))
	return r, nil
}

func openSimulation(cfg *config.Config, channels int, clock timeutil.Clock) (*rig, error) {
	tx := ibus.NewTransmitter(uint16(cfg.GetRawRange().Mid()))
	if err := devSticks(tx, cfg); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	rx, err := ibus.NewReceiver(pr, receiverConfig(cfg, channels))
	if err != nil {
		return nil, err
	}

	plant := control.NewSimulatedPlant(clock, 0)
	trace := actuator.NewRecorder(1000)
	return &rig{
		receiver: rx,
		motor:    actuator.Multi{plant, trace},
		led:      trace,
		feedback: plant,
		run: []func(ctx context.Context) error{
			func(ctx context.Context) error {
				return tx.Run(ctx, pw, clock, ibus.DefaultFrameInterval)
			},
		},
		closers: []io.Closer{pw, pr},
	}, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("rcdrive"))
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	mapper, err := cfg.NewMapper()
	if err != nil {
		log.Fatalf("failed to build channel mapper: %v", err)
	}

	clock := timeutil.RealClock{}
	var devices *rig
	if *devMode {
		devices, err = openSimulation(cfg, mapper.Channels(), clock)
	} else {
		devices, err = openHardware(cfg, mapper.Channels())
	}
	if err != nil {
		log.Fatalf("failed to set up devices: %v", err)
	}
	defer devices.Close()

	store, err := telemetry.Open(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open telemetry database: %v", err)
	}
	defer store.Close()
	store.Every = *recordEvery

	notes := "hardware"
	if *devMode {
		notes = "dev"
	}
	if _, err := store.StartRun(clock.Now(), notes); err != nil {
		log.Fatalf("failed to start telemetry run: %v", err)
	}

	loopCfg := cfg.ControlConfig()
	deps := control.Deps{
		Source:    devices.receiver,
		Mapper:    mapper,
		Motor:     devices.motor,
		Indicator: devices.led,
		Clock:     clock,
		Feedback:  devices.feedback,
		Recorder:  store,
		Sequence:  pid.NewSequence(),
	}
	if loopCfg.PID != nil {
		if devices.feedback == nil {
			log.Printf("pid is enabled but no position feedback is available; running open loop")
		}
		if cfg.PID.GetDisplay() {
			deps.Display = pid.TeleplotDisplay{W: os.Stdout}
		}
	}
	loop, err := control.New(loopCfg, deps)
	if err != nil {
		log.Fatalf("failed to create control loop: %v", err)
	}
	log.Printf("control loop ready: %d channels, enable=%d limiter=%d command=%d",
		mapper.Channels(), loopCfg.EnableChannel, loopCfg.LimiterChannel, loopCfg.CommandChannel)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// receiver monitor
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := devices.receiver.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("receiver monitor failed: %v", err)
		}
		log.Print("receiver routine terminated")
	}()

	for _, fn := range devices.run {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("device routine failed: %v", err)
			}
		}()
	}

	// Ports close once the loop has written its final zero command. This
	// also unblocks a dev-mode frame write on the pipe.
	loopDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-loopDone
		devices.Close()
		devices.closers = nil
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("control loop failed: %v", err)
			stop()
		}
		log.Print("control loop terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(loop, store).ServeMux()
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
