package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	internalgrpc "github.com/mr1hm/campus-alert-relay/internal/grpc"
)

var (
	addr    string
	asJSON  bool
	status  string
	limit   int32
	watchAs string
)

var rootCmd = &cobra.Command{
	Use:           "alert-watch",
	Short:         "Inspect and follow campus emergency alerts over gRPC",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored alerts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *internalgrpc.Client) error {
			resp, err := c.ListAlerts(ctx, &internalgrpc.ListAlertsRequest{Status: status, Limit: limit})
			if err != nil {
				return fmt.Errorf("listing alerts: %w", err)
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tSTUDENT\tTYPE\tSTATUS\tLOCATION")
			for _, a := range resp.Alerts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.5f,%.5f\n",
					a.ID, a.Timestamp.Local().Format(time.DateTime), a.StudentInfo.Name,
					a.AlertType, a.Status, a.Location.Latitude, a.Location.Longitude)
			}
			fmt.Fprintf(w, "\n%d shown, %d total, %d active\n", len(resp.Alerts), resp.Total, resp.ActiveAlerts)
			return w.Flush()
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the active backlog, then every new alert and response",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *internalgrpc.Client) error {
			stream, err := c.StreamAlerts(ctx, &internalgrpc.StreamAlertsRequest{Name: watchAs, Status: status})
			if err != nil {
				return fmt.Errorf("opening stream: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				ev, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					fmt.Fprintln(cmd.ErrOrStderr(), "stream closed by server")
					return nil
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("receiving: %w", err)
				}

				if asJSON {
					if err := enc.Encode(ev); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), describe(ev))
			}
		})
	},
}

func describe(ev *internalgrpc.AlertEvent) string {
	a := ev.Alert
	line := fmt.Sprintf("[%s] %-15s %s %s (%s) at %.5f,%.5f",
		a.Timestamp.Local().Format(time.TimeOnly), ev.Event, a.ID, a.StudentInfo.Name,
		a.AlertType, a.Location.Latitude, a.Location.Longitude)
	if a.RespondedBy != nil {
		line += fmt.Sprintf(" -> %s by %s", a.Status, *a.RespondedBy)
	}
	if mp := a.StudentInfo.MedicalProfile; mp != nil {
		line += fmt.Sprintf(" [blood %s, allergies %v]", mp.BloodType, mp.Allergies)
	}
	return line
}

func withClient(ctx context.Context, fn func(context.Context, *internalgrpc.Client) error) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, internalgrpc.NewClient(conn))
}

func init() {
	_ = godotenv.Load()

	defaultAddr := os.Getenv("RELAY_GRPC_ADDR")
	if defaultAddr == "" {
		defaultAddr = "localhost:50051"
	}

	rootCmd.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "relay gRPC address")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")
	rootCmd.PersistentFlags().StringVar(&status, "status", "", "only alerts with this status")

	listCmd.Flags().Int32Var(&limit, "limit", 0, "maximum alerts to return (server default when 0)")
	watchCmd.Flags().StringVar(&watchAs, "name", "alert-watch", "observer name reported to the relay")

	rootCmd.AddCommand(listCmd, watchCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
