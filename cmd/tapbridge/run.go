package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/config"
	"github.com/sarchlab/tapbridge/simulation"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	config      string
	stop        time.Duration
	pcap        bool
	pcapPrefix  string
	pcapDir     string
	monitor     bool
	monitorPort int
	openBrowser bool
	record      string
	trace       bool
	showNodes   bool
	logFrames   bool
	taps        []string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run [scenario]",
	Short: "Run a scenario in real time, bridged to the host tap devices.",
	Long: "`run tap-csma` runs a built-in scenario. `run --config FILE` runs " +
		"a scenario file. The run ends at the stop time, on SIGINT or " +
		"SIGTERM, or when a tap device fails.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScenario(firstArg(args), runOpts.config)
		if err != nil {
			return err
		}

		if err := runOpts.apply(cmd, s); err != nil {
			return err
		}

		b, err := runOpts.builder(s)
		if err != nil {
			return err
		}

		return runSimulation(cmd, b)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVarP(&runOpts.config, "config", "c", "",
		"Scenario file, YAML or TOML.")
	f.DurationVar(&runOpts.stop, "stop", 0,
		"Simulated time at which the run stops. Overrides the scenario.")
	f.BoolVar(&runOpts.pcap, "pcap", false,
		"Capture every interface into a pcap file.")
	f.StringVar(&runOpts.pcapPrefix, "pcap-prefix", "",
		"Prefix of the pcap file names.")
	f.StringVar(&runOpts.pcapDir, "pcap-dir", "",
		"Directory of the pcap files.")
	f.BoolVar(&runOpts.monitor, "monitor", false,
		"Serve the monitor over HTTP.")
	f.IntVar(&runOpts.monitorPort, "monitor-port", 0,
		"Port of the monitor. Ports below 1000 pick a random port.")
	f.BoolVar(&runOpts.openBrowser, "open-browser", false,
		"Open the monitor in a browser.")
	f.StringVar(&runOpts.record, "record", "",
		"Record the run and its frames into a sqlite file.")
	f.BoolVar(&runOpts.trace, "trace", false,
		"Print OpenTelemetry spans of the run to stdout.")
	f.BoolVar(&runOpts.showNodes, "show-nodes", true,
		"Print the nodes before running.")
	f.BoolVar(&runOpts.logFrames, "log-frames", false,
		"Log every relayed frame at debug level.")
	f.StringArrayVar(&runOpts.taps, "tap", nil,
		"Bind a tap of the scenario to another device, as name=device.")
}

func (o runOptions) apply(cmd *cobra.Command, s *config.Scenario) error {
	flags := cmd.Flags()

	if flags.Changed("stop") {
		if o.stop < 0 {
			return errors.New("stop time must not be negative")
		}
		s.StopTime = config.Duration(o.stop)
	}

	if flags.Changed("pcap") {
		s.Pcap.Enabled = o.pcap
	}

	if o.pcapPrefix != "" {
		s.Pcap.Prefix = o.pcapPrefix
	}

	if o.pcapDir != "" {
		s.Pcap.Dir = o.pcapDir
	}

	if flags.Changed("monitor") {
		s.Monitor.Enabled = o.monitor
	}

	if o.monitorPort != 0 {
		s.Monitor.Port = o.monitorPort
	}

	if o.openBrowser {
		s.Monitor.Enabled = true
		s.Monitor.OpenBrowser = true
	}

	if o.record != "" {
		s.Record.Path = o.record
	}

	if o.trace {
		s.Trace = true
	}

	return nil
}

func (o runOptions) builder(s *config.Scenario) (simulation.Builder, error) {
	b := simulation.MakeBuilder().WithScenario(s)

	overrides, err := parseTapOverrides(o.taps)
	if err != nil {
		return b, err
	}

	for name, device := range overrides {
		b = b.WithTapOverride(name, device)
	}

	if o.logFrames {
		b = b.WithFrameLogging()
	}

	if s.Trace {
		b = b.WithTraceWriter(os.Stdout)
	}

	return b, nil
}

// parseTapOverrides reads name=device pairs.
func parseTapOverrides(pairs []string) (map[string]string, error) {
	overrides := make(map[string]string, len(pairs))

	for _, p := range pairs {
		name, device, found := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		device = strings.TrimSpace(device)

		if !found || name == "" || device == "" {
			return nil, errors.Errorf("bad tap binding %q, want name=device", p)
		}

		if _, dup := overrides[name]; dup {
			return nil, errors.Errorf("tap %s bound twice", name)
		}

		overrides[name] = device
	}

	return overrides, nil
}

func runSimulation(cmd *cobra.Command, b simulation.Builder) error {
	s, err := b.Build()
	if err != nil {
		return err
	}

	if runOpts.showNodes {
		if err := s.LogNodes(cmd.OutOrStdout()); err != nil {
			logrus.WithError(err).Warn("cannot print nodes")
		}
	}

	if url := s.MonitorURL(); url != "" {
		logrus.WithField("url", url).Info("monitor started")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	runErr := s.Run(ctx)
	if ctx.Err() != nil && runErr == nil {
		logrus.Info("interrupted")
	}

	shutdownErr := s.Shutdown()
	if shutdownErr != nil {
		logrus.WithError(shutdownErr).Error("shutdown")
	}

	if runErr != nil {
		return runErr
	}

	return shutdownErr
}

