package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/srjwebster/silvia-pid/proto/silviapidpb"
)

var statusServerAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print machine state and mode from a running silviapid serve instance",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusServerAddr, "server", "localhost:7600", "silviapid gRPC command surface address")
}

func runStatus(cmd *cobra.Command, args []string) {
	conn, err := grpc.NewClient(statusServerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Printf("failed to connect to %s: %v\n", statusServerAddr, err)
		return
	}
	defer conn.Close()

	client := pb.NewCommandServiceClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := client.GetState(ctx, &pb.GetStateRequest{})
	if err != nil {
		fmt.Printf("get_state failed: %v\n", err)
		return
	}
	m, err := client.GetMode(ctx, &pb.GetModeRequest{})
	if err != nil {
		fmt.Printf("get_mode failed: %v\n", err)
		return
	}

	fmt.Printf("machine_state: %s (%s, updated %s)\n", state.MachineState, state.Description, state.UpdatedAt)
	fmt.Printf("mode: %s  target: %.1fC", m.Mode, m.Target)
	if m.SteamRemainingSeconds >= 0 {
		fmt.Printf("  steam_remaining: %ds", m.SteamRemainingSeconds)
	}
	fmt.Println()
}
