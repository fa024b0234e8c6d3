package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/client"
	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
	"github.com/MarcoPoloResearchLab/inkroom/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix        = "INKROOM_CLI"
	defaultServerURL = "http://localhost:8080"
	joinTimeout      = 10 * time.Second
	gestureSteps     = 4
)

func main() {
	configViper := viper.New()
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	configViper.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:          "inkroom-cli",
		Short:        "Command-line participant for an inkroom relay",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("server", defaultServerURL, "Relay base URL")
	rootCmd.PersistentFlags().String("room", "", "Room identifier")
	rootCmd.PersistentFlags().String("user-id", "", "Participant user id")
	rootCmd.PersistentFlags().String("token", "", "Participant access token")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	for _, flag := range []string{"server", "room", "user-id", "token", "log-level"} {
		if err := configViper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(
		newIdentityCommand(configViper),
		newWatchCommand(configViper),
		newDrawCommand(configViper),
		newUndoCommand(configViper),
		newDeleteCommand(configViper),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type identityResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func newIdentityCommand(configViper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "identity [display-name]",
		Short: "Provision a participant and print its credentials",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			displayName := ""
			if len(args) == 1 {
				displayName = args[0]
			}
			body, err := json.Marshal(map[string]string{"display_name": displayName})
			if err != nil {
				return err
			}
			endpoint := strings.TrimRight(configViper.GetString("server"), "/") + "/identities"
			request, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return err
			}
			request.Header.Set("Content-Type", "application/json")
			response, err := http.DefaultClient.Do(request)
			if err != nil {
				return err
			}
			defer response.Body.Close()
			if response.StatusCode != http.StatusOK {
				return fmt.Errorf("provision failed: status %d", response.StatusCode)
			}
			var payload identityResponse
			if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(payload)
		},
	}
}

func newWatchCommand(configViper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Join a room and log everything that happens until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			participant, err := openParticipant(cmd.Context(), configViper)
			if err != nil {
				return err
			}
			defer participant.close()
			participant.logger.Info("watching room",
				zap.String("room_id", participant.canvas.RoomID()),
				zap.Int("elements", len(participant.canvas.Elements())))
			select {
			case <-cmd.Context().Done():
			case <-participant.session.Done():
			}
			return nil
		},
	}
}

func newDrawCommand(configViper *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draw <x> <y> <w> <h>",
		Short: "Draw one element as a single gesture from (x,y) to (x+w,y+h)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawKind, err := cmd.Flags().GetString("kind")
			if err != nil {
				return err
			}
			kind, err := elements.NewKind(rawKind)
			if err != nil {
				return err
			}
			values := make([]float64, 0, len(args))
			for _, arg := range args {
				value, err := strconv.ParseFloat(arg, 64)
				if err != nil {
					return fmt.Errorf("invalid number %q: %w", arg, err)
				}
				values = append(values, value)
			}
			participant, err := openParticipant(cmd.Context(), configViper)
			if err != nil {
				return err
			}
			defer participant.close()

			ctx := cmd.Context()
			origin := elements.Point{X: values[0], Y: values[1]}
			participant.moveCursor(origin)
			id, err := participant.canvas.PointerDown(ctx, kind, origin, client.Style{Color: "#000000", StrokeWidth: 2})
			if err != nil {
				return err
			}
			for step := 1; step <= gestureSteps; step++ {
				fraction := float64(step) / gestureSteps
				position := elements.Point{X: origin.X + values[2]*fraction, Y: origin.Y + values[3]*fraction}
				participant.canvas.PointerMove(position)
				participant.moveCursor(position)
			}
			participant.canvas.PointerUp(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return participant.flush(ctx)
		},
	}
	cmd.Flags().String("kind", string(elements.KindRectangle), "Element kind (pen, rect, ellipse, line, arrow)")
	return cmd
}

// Each invocation is a fresh session, and reconciliation on join drops the
// redo stack, so the CLI offers undo only.
func newUndoCommand(configViper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Undo your most recent element that is still in the room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			participant, err := openParticipant(cmd.Context(), configViper)
			if err != nil {
				return err
			}
			defer participant.close()

			ctx := cmd.Context()
			if !participant.canvas.Undo(ctx) {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to undo")
				return nil
			}
			stack := participant.canvas.History()
			fmt.Fprintf(cmd.OutOrStdout(), "undo done (undo=%d)\n", len(stack.Undo))
			return participant.flush(ctx)
		},
	}
}

func newDeleteCommand(configViper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <element-id>",
		Short: "Remove an element from the room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			participant, err := openParticipant(cmd.Context(), configViper)
			if err != nil {
				return err
			}
			defer participant.close()
			if !participant.canvas.Delete(args[0]) {
				return fmt.Errorf("element %s is not in the room", args[0])
			}
			return participant.flush(cmd.Context())
		},
	}
}

func newLogger(configViper *viper.Viper) (*zap.Logger, error) {
	return logging.NewConsoleLogger(configViper.GetString("log-level"))
}
