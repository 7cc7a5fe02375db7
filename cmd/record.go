package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/audio"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/service"
)

var recordCmd = &cobra.Command{
	Use:   "record [label]",
	Short: "Record one utterance from the microphone",
	Long: `Record audio from the configured microphone until Enter is pressed,
Ctrl+C is received or --duration elapses. The take is written as a WAV file
named <timestamp>_<label>.wav in the output directory, or to --to when given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label := ""
		if len(args) == 1 {
			label = args[0]
		}
		outputDir, _ := cmd.Flags().GetString("output")
		destination, _ := cmd.Flags().GetString("to")
		duration, _ := cmd.Flags().GetDuration("duration")

		if outputDir != "" {
			cfg.Output.Directory = outputDir
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Debug("Creating service instance")
		svc, err := service.New(cfg, service.Options{
			Listener: audio.ListenerFuncs{
				Started: func() {
					if duration > 0 {
						fmt.Printf("Recording for %s... press Enter or Ctrl+C to stop early\n", duration)
					} else {
						fmt.Println("Recording... press Enter or Ctrl+C to stop")
					}
				},
				Error: func(message string) {
					fmt.Fprintf(os.Stderr, "error: %s\n", message)
				},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := svc.Close(shutdownCtx); err != nil {
				slog.Warn("Service shutdown failed", "error", err)
			}
		}()

		if destination != "" {
			err = svc.BeginTo(ctx, destination)
		} else {
			destination, err = svc.Begin(ctx, label)
		}
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		slog.Debug("Recording to", "destination", destination)

		// The session can also finish on its own after a device failure
		finished := make(chan *service.SessionRecord, 1)
		waitErr := make(chan error, 1)
		go func() {
			record, err := svc.Wait(context.Background())
			if err != nil {
				waitErr <- err
				return
			}
			finished <- record
		}()

		var timeout <-chan time.Time
		if duration > 0 {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			timeout = timer.C
		}

		var record *service.SessionRecord
		select {
		case <-ctx.Done():
			slog.Info("Stopping recording...")
		case <-pressedEnter():
		case <-timeout:
		case record = <-finished:
		case err := <-waitErr:
			return err
		}

		if record == nil {
			if err := svc.End(); err != nil {
				slog.Warn("End failed", "error", err)
			}
			select {
			case record = <-finished:
			case err := <-waitErr:
				return err
			}
		}

		if !record.Saved {
			return fmt.Errorf("recording was not saved: %s", strings.Join(record.Errors, "; "))
		}
		fmt.Printf("Saved %s (%s)\n", record.Location, record.EndTime.Sub(record.StartTime).Round(time.Millisecond))
		return nil
	},
}

// pressedEnter fires once a line is read from stdin
func pressedEnter() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err == nil {
			close(ch)
		}
	}()
	return ch
}

func init() {
	recordCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
	recordCmd.Flags().String("to", "", "exact destination path or ftp:// / sftp:// URL")
	recordCmd.Flags().DurationP("duration", "d", 0, "stop automatically after this long (0 = until Enter)")
}
