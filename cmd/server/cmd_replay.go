package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/IdanVahab/Temi-Server/internal/scenario"
	"github.com/IdanVahab/Temi-Server/internal/session"
)

const maxReplayLine = 1 << 20

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <file|->",
		Short: "Run recorded frames through a fresh engine",
		Long: `Reads one JSON frame per line and prints every scenario the engine
would emit, one JSON object per line. Frame timestamps drive the engine
clock; frames without one advance it by --interval.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			sessionID, _ := cmd.Flags().GetString("session")

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open replay file: %w", err)
				}
				defer f.Close()
				in = f
			}

			stats, err := replay(in, cmd.OutOrStdout(), cfg.Engine.Scenario(), replayOptions{
				Interval:  interval,
				SessionID: sessionID,
				Errors:    cmd.ErrOrStderr(),
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "frames=%d rejected=%d events=%d\n",
				stats.Frames, stats.Rejected, stats.Events)
			return err
		},
	}
	cmd.Flags().String("session", "", "Only replay frames recorded for this session id")
	cmd.Flags().Duration("interval", 100*time.Millisecond, "Clock step for frames without a timestamp")
	return cmd
}

type replayOptions struct {
	Interval time.Duration
	Start    time.Time
	Errors   io.Writer

	// SessionID keeps only lines whose session_id matches, for files
	// written by the frame recorder.
	SessionID string
}

type replayStats struct {
	Frames   int
	Rejected int
	Events   int
}

// replay feeds newline-delimited frames through one engine. Rejected lines
// are reported and skipped; only read and write failures abort.
func replay(r io.Reader, w io.Writer, cfg scenario.Config, opts replayOptions) (replayStats, error) {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Start.IsZero() {
		opts.Start = time.Unix(0, 0)
	}
	if opts.Errors == nil {
		opts.Errors = io.Discard
	}

	var stats replayStats
	now := opts.Start
	engine := scenario.New(cfg, scenario.WithClock(func() time.Time { return now }))
	enc := json.NewEncoder(w)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		if opts.SessionID != "" {
			var tag struct {
				SessionID string `json:"session_id"`
			}
			if json.Unmarshal(data, &tag) == nil && tag.SessionID != opts.SessionID {
				continue
			}
		}
		stats.Frames++

		frame, err := session.DecodeFrame(data)
		if err != nil {
			stats.Rejected++
			fmt.Fprintf(opts.Errors, "line %d: %v\n", line, err)
			continue
		}
		if frame.Timestamp > 0 {
			// Clock never runs backwards
			if t := frame.Time(); t.After(now) {
				now = t
			}
		} else if stats.Frames > 1 {
			now = now.Add(opts.Interval)
		}

		labels, objects, err := session.Decode(frame)
		if err == nil {
			var ev scenario.Event
			var ok bool
			ev, ok, err = engine.Step(labels, objects)
			if err == nil && ok {
				stats.Events++
				if err := enc.Encode(session.Message("", ev)); err != nil {
					return stats, fmt.Errorf("write event: %w", err)
				}
			}
		}
		if err != nil {
			stats.Rejected++
			fmt.Fprintf(opts.Errors, "line %d: %v\n", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read frames: %w", err)
	}
	return stats, nil
}
