package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/config"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/monitoring"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/serialmux"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/processor"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/timeutil"
)

// maxPayload bounds one framed board message in a capture.
const maxPayload = 64 * 1024

type replayOptions struct {
	start    time.Time
	interval time.Duration
	verbose  bool
}

type replaySummary struct {
	Readings int
	Frames   int
	Skipped  int
	Alarms   int
}

func newReplayCmd() *cobra.Command {
	var configPath, start string
	opts := replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Run a captured serial log through the detection engine",
		Long: `replay feeds every {...} board message in FILE through the same pipeline
the node runs and prints detection events, alarms and a summary. Readings
are timestamped from --start, one --interval apart.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileCfg, err := config.LoadProcessorConfig(configPath)
			if err != nil {
				return err
			}
			cfg, err := fileCfg.Processor()
			if err != nil {
				return err
			}
			if opts.start, err = time.Parse(time.RFC3339, start); err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			w := cmd.OutOrStdout()
			sum, err := replay(w, f, cfg, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "replayed %d readings: %d frames, %d skipped, %d alarms\n",
				sum.Readings, sum.Frames, sum.Skipped, sum.Alarms)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", config.DefaultConfigPath, "Path to the JSON configuration file")
	f.StringVar(&start, "start", "2000-01-01T00:00:00Z", "Timestamp of the first reading (RFC 3339)")
	f.DurationVar(&opts.interval, "interval", 100*time.Millisecond, "Time between readings")
	f.BoolVar(&opts.verbose, "verbose", false, "Print a line for every frame")
	return cmd
}

// replay runs every framed payload in r through a processor built from cfg.
// Engine diagnostics are written to w for the duration of the call.
func replay(w io.Writer, r io.Reader, cfg processor.Config, opts replayOptions) (replaySummary, error) {
	var sum replaySummary

	previous := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		fmt.Fprintf(w, format+"\n", v...)
	})
	defer monitoring.SetLogger(previous)

	clock := timeutil.NewMockClock(opts.start)
	sinks := processor.Sinks{
		Alarm: func(ev processor.AlarmEvent) {
			if ev.Kind == processor.ValueSet {
				sum.Alarms++
			}
			fmt.Fprintf(w, "ALARM %s at %s %v\n", ev.Kind, ev.Time.UTC().Format(time.RFC3339Nano), ev.Points)
		},
		Device: func(b []byte) error {
			if opts.verbose {
				fmt.Fprintf(w, "-> board %s\n", device.BoardCommand(b))
			}
			return nil
		},
	}
	proc, err := processor.New(cfg, sinks, clock)
	if err != nil {
		return sum, err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxPayload)
	scanner.Split(serialmux.ScanBraces)
	for scanner.Scan() {
		sum.Readings++
		reading, err := device.DecodeReading(scanner.Bytes())
		if err != nil {
			sum.Skipped++
			fmt.Fprintf(w, "reading %d: %v\n", sum.Readings, err)
			continue
		}
		msg, err := proc.ProcessReading(reading)
		if err != nil {
			sum.Skipped++
			fmt.Fprintf(w, "reading %d: %v\n", sum.Readings, err)
			continue
		}
		if msg.IsFrame() {
			sum.Frames++
			if opts.verbose {
				st := proc.Status()
				fmt.Fprintf(w, "frame %d %s samples=%d objects=%d max=%.2f\n",
					sum.Frames, msg[processor.KeyPhase], st.Background.Samples, st.Objects, msg[processor.KeyMax])
			}
		}
		clock.Advance(opts.interval)
	}
	if err := scanner.Err(); err != nil {
		return sum, fmt.Errorf("read capture: %w", err)
	}
	return sum, nil
}
