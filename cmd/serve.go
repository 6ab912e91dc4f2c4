package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/srjwebster/silvia-pid/internal/actuator"
	"github.com/srjwebster/silvia-pid/internal/command"
	"github.com/srjwebster/silvia-pid/internal/config"
	"github.com/srjwebster/silvia-pid/internal/control"
	"github.com/srjwebster/silvia-pid/internal/grpcapi"
	"github.com/srjwebster/silvia-pid/internal/mode"
	"github.com/srjwebster/silvia-pid/internal/sensor"
	"github.com/srjwebster/silvia-pid/internal/telemetry"
	pb "github.com/srjwebster/silvia-pid/proto/silviapidpb"
)

const (
	// TickPeriod is the Control Loop's cadence, spec §4.10.
	TickPeriod = 1 * time.Second
)

var (
	configPath    string
	telemetryPath string
	grpcAddr      string
	metricsAddr   string
	i2cBus        string
	sensorAddr    uint
	gpioPin       string
	dryRun        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control loop, the gRPC command surface, and the metrics endpoint",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&configPath, "config", "/etc/silviapid/config.json", "path to the configuration document")
	serveCmd.Flags().StringVar(&telemetryPath, "telemetry-db", "/var/lib/silviapid/telemetry.db", "path to the sqlite telemetry store")
	serveCmd.Flags().StringVar(&grpcAddr, "grpc-addr", ":7600", "address the Command Interface gRPC server listens on")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9600", "address the Prometheus metrics endpoint listens on")
	serveCmd.Flags().StringVar(&i2cBus, "i2c-bus", "", "I2C bus name for the MCP9600 (empty selects the default bus)")
	serveCmd.Flags().UintVar(&sensorAddr, "sensor-addr", sensor.DefaultMCP9600Addr, "I2C address of the MCP9600")
	serveCmd.Flags().StringVar(&gpioPin, "gpio-pin", "GPIO18", "GPIO pin name the heater SSR's PWM input is wired to")
	serveCmd.Flags().BoolVar(&dryRun, "dry-run", false, "use in-memory fakes instead of real I2C/GPIO hardware")
}

func runServe(cmd *cobra.Command, args []string) {
	store, err := config.Open(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("serve: failed to open config store")
	}

	reg := prometheus.NewRegistry()
	tel, err := telemetry.Open(telemetryPath, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("serve: failed to open telemetry store")
	}

	sen, act, err := buildHardware()
	if err != nil {
		log.Fatal().Err(err).Msg("serve: failed to initialize sensor/actuator hardware")
	}

	modeCtl := mode.New(store)
	loop := control.New(sen, act, store, modeCtl, tel)
	cmdIface := command.New(store, modeCtl, tel)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	grpcServer := startGRPCServer(cmdIface)
	metricsServer := startMetricsServer(reg)

	go logModeEvents(modeCtl)

	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()

	log.Info().Str("config", configPath).Str("telemetry", telemetryPath).Msg("serve: control loop starting")

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sensor.ReadTimeout+time.Second)
			loop.Tick(ctx)
			cancel()
		case <-stop:
			log.Info().Msg("serve: shutdown signal received")
			grpcServer.GracefulStop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsServer.Shutdown(shutdownCtx)
			cancel()
			loop.Shutdown()
			return
		}
	}
}

func startGRPCServer(cmdIface *command.Interface) *grpc.Server {
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", grpcAddr).Msg("serve: failed to bind gRPC listener")
	}
	grpcServer := grpc.NewServer()
	pb.RegisterCommandServiceServer(grpcServer, grpcapi.New(cmdIface))
	go func() {
		log.Info().Str("addr", grpcAddr).Msg("serve: gRPC command surface listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("serve: gRPC server stopped")
		}
	}()
	return grpcServer
}

func startMetricsServer(reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", metricsAddr).Msg("serve: metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("serve: metrics server stopped")
		}
	}()
	return srv
}

func logModeEvents(modeCtl *mode.Controller) {
	for ev := range modeCtl.Events() {
		log.Info().Str("id", ev.ID).Str("mode", string(ev.Mode)).Str("reason", string(ev.Reason)).
			Msg("serve: mode_change")
	}
}

// buildHardware constructs the real periph.io-backed Sensor/Actuator, or
// in-memory fakes under --dry-run for development off the target board.
func buildHardware() (sensor.Sensor, actuator.Actuator, error) {
	if dryRun {
		log.Warn().Msg("serve: --dry-run set, using fake sensor/actuator")
		return sensor.NewFake(), actuator.NewFake(), nil
	}

	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("periph host init: %w", err)
	}

	var bus i2c.BusCloser
	var err error
	if i2cBus != "" {
		bus, err = i2creg.Open(i2cBus)
	} else {
		bus, err = i2creg.Open("")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open i2c bus: %w", err)
	}

	sen := sensor.NewMCP9600(bus, uint16(sensorAddr))

	heaterPin := gpioreg.ByName(gpioPin)
	if heaterPin == nil {
		return nil, nil, fmt.Errorf("gpio pin %q not found on this host", gpioPin)
	}
	act := actuator.NewPWM(heaterPin)

	return sen, act, nil
}
