package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Environment variables that override scenario values.
const (
	EnvStopTime    = "TAPBRIDGE_STOP_TIME"
	EnvPcapPrefix  = "TAPBRIDGE_PCAP_PREFIX"
	EnvMonitorPort = "TAPBRIDGE_MONITOR_PORT"
	EnvLogLevel    = "TAPBRIDGE_LOG_LEVEL"
)

// Env holds the overrides read from the environment. Zero values mean the
// variable was not set.
type Env struct {
	StopTime    *Duration
	PcapPrefix  string
	MonitorPort int
	LogLevel    string
}

// LoadEnv loads the given .env files, or .env in the working directory when
// none is given, and reads the TAPBRIDGE_* variables. Missing files are
// ignored. Variables already set in the process win over the files.
func LoadEnv(files ...string) (Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}

		if err := godotenv.Load(f); err != nil {
			return Env{}, errors.Wrapf(err, "load %s", f)
		}
	}

	env := Env{
		PcapPrefix: os.Getenv(EnvPcapPrefix),
		LogLevel:   os.Getenv(EnvLogLevel),
	}

	if v := os.Getenv(EnvStopTime); v != "" {
		var d Duration
		if err := d.UnmarshalText([]byte(v)); err != nil {
			return Env{}, errors.Wrap(err, EnvStopTime)
		}
		env.StopTime = &d
	}

	if v := os.Getenv(EnvMonitorPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Env{}, errors.Wrap(err, EnvMonitorPort)
		}
		env.MonitorPort = port
	}

	return env, nil
}

// Apply writes the overrides into the scenario.
func (e Env) Apply(s *Scenario) {
	if e.StopTime != nil {
		s.StopTime = *e.StopTime
	}

	if e.PcapPrefix != "" {
		s.Pcap.Prefix = e.PcapPrefix
	}

	if e.MonitorPort != 0 {
		s.Monitor.Port = e.MonitorPort
	}
}
