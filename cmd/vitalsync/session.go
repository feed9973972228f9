package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/thrive/vitalsync/internal/config"
	"github.com/thrive/vitalsync/internal/domain/session"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Real-time audio/video session helpers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "token <room> [participant]",
		Short: "Request credentials for a session room",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			participant := ""
			if len(args) == 2 {
				participant = args[1]
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg, newLogger(cmd.ErrOrStderr(), cfg))
			if err != nil {
				return err
			}
			creds, err := client.SessionToken(cmd.Context(), cfg.AccessToken, args[0], participant)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), creds)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "simulate",
		Short: "Drive the session state machine from stdin",
		Long: "Reads one event per line and prints the session status after every change.\n" +
			"Events: connected, disconnected, failed <message>, degraded, restored, retry,\n" +
			"media <error name>, camera on|off, frame.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)
			out := &lockedWriter{w: cmd.OutOrStdout()}

			coord := session.NewCoordinator(session.Options{CameraGrace: cfg.CameraGrace}, logger)
			defer coord.Close()
			coord.OnChange(func(s session.Status) {
				fmt.Fprintln(out, formatStatus(s))
			})
			fmt.Fprintln(out, formatStatus(coord.Status()))

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				if err := applySessionCommand(coord, line); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
			return scanner.Err()
		},
	})

	return cmd
}

// applySessionCommand parses one simulate line and applies it. Transport
// events are stamped with the current attempt.
func applySessionCommand(coord *session.Coordinator, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	attempt := coord.Status().Attempt
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch strings.ToLower(fields[0]) {
	case "connected":
		return coord.Dispatch(session.ConnectSucceeded{Attempt: attempt})
	case "disconnected":
		return coord.Dispatch(session.Disconnected{Attempt: attempt})
	case "failed":
		if rest == "" {
			rest = "connection failed"
		}
		return coord.Dispatch(session.TransportFailed{Attempt: attempt, Message: rest})
	case "degraded":
		return coord.Dispatch(session.QualityDegraded{Attempt: attempt})
	case "restored":
		return coord.Dispatch(session.QualityRestored{Attempt: attempt})
	case "retry":
		return coord.Dispatch(session.Retry{})
	case "media":
		return coord.Dispatch(session.MediaDeviceFailed{Attempt: attempt, Category: session.ParseMediaCategory(rest)})
	case "camera":
		switch strings.ToLower(rest) {
		case "on":
			coord.SetCameraEnabled(true)
		case "off":
			coord.SetCameraEnabled(false)
		default:
			return fmt.Errorf("camera expects on or off, got %q", rest)
		}
		return nil
	case "frame":
		coord.FrameObserved()
		return nil
	default:
		return fmt.Errorf("unknown event %q", fields[0])
	}
}

func formatStatus(s session.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s attempt=%s", s.State, s.Attempt)
	if s.LastError != "" {
		fmt.Fprintf(&b, " error=%q", s.LastError)
	}
	if s.MediaAdvisory != "" {
		fmt.Fprintf(&b, " media=%q", s.MediaAdvisory)
	}
	if s.CameraAdvisory != "" {
		fmt.Fprintf(&b, " camera=%q", s.CameraAdvisory)
	}
	return b.String()
}

// lockedWriter serializes writes from the watchdog timer and the input loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
