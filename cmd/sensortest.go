package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/srjwebster/silvia-pid/internal/sensor"
)

var sensorTestAddr uint

var sensorTestCmd = &cobra.Command{
	Use:   "sensor-test",
	Short: "Read the MCP9600 once per second and print Celsius readings until interrupted",
	Run:   runSensorTest,
}

func init() {
	rootCmd.AddCommand(sensorTestCmd)
	sensorTestCmd.Flags().UintVar(&sensorTestAddr, "sensor-addr", sensor.DefaultMCP9600Addr, "I2C address of the MCP9600")
}

func runSensorTest(cmd *cobra.Command, args []string) {
	if _, err := host.Init(); err != nil {
		fmt.Printf("periph host init failed: %v\n", err)
		return
	}
	bus, err := i2creg.Open("")
	if err != nil {
		fmt.Printf("open i2c bus failed: %v\n", err)
		return
	}
	defer bus.Close()

	sen := sensor.NewMCP9600(bus, uint16(sensorTestAddr))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	fmt.Println("Reading MCP9600... CTRL+C to stop")
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sensor.ReadTimeout)
			r, err := sen.Read(ctx)
			cancel()
			if err != nil {
				fmt.Printf("read failed: %v\n", err)
				continue
			}
			fmt.Printf("%.2fC at %s\n", r.TemperatureC, r.Timestamp.Format(time.RFC3339))
		case <-stop:
			return
		}
	}
}
