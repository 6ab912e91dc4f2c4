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

const historyRequestTimeout = 10 * time.Second

var (
	historyServerAddr string
	historyLimit      int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query stored telemetry records (oldest first, up to --limit) from a running silviapid serve instance",
	Run:   runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyServerAddr, "server", "localhost:7600", "silviapid gRPC command surface address")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "maximum number of records to return (1-10000)")
}

func runHistory(cmd *cobra.Command, args []string) {
	conn, err := grpc.NewClient(historyServerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Printf("failed to connect to %s: %v\n", historyServerAddr, err)
		return
	}
	defer conn.Close()

	client := pb.NewCommandServiceClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), historyRequestTimeout)
	defer cancel()

	resp, err := client.History(ctx, &pb.HistoryRequest{Limit: int32(historyLimit)})
	if err != nil {
		fmt.Printf("history request failed: %v\n", err)
		return
	}

	for _, r := range resp.Records {
		t := time.UnixMilli(r.TimestampMs).UTC().Format(time.RFC3339)
		fmt.Printf("%s  %6.2fC  %5.1f%%  %s\n", t, r.TemperatureC, r.OutputPercent, r.PidMode)
	}
}
