package config

import (
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/sim"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a string such as "10ms" or "30s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Seconds returns the value in simulated seconds.
func (d Duration) Seconds() sim.VTimeInSec {
	return sim.VTimeInSec(time.Duration(d).Seconds())
}

// UnmarshalText parses a duration string. A bare number is read as seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		secs, parseErr := strconv.ParseFloat(s, 64)
		if parseErr != nil {
			return errors.Wrapf(err, "invalid duration %q", s)
		}
		parsed = time.Duration(secs * float64(time.Second))
	}

	*d = Duration(parsed)

	return nil
}

// MarshalText writes the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML reads the duration from a scalar node.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// DataRate is a link rate written as a string such as "5Mbps",
// "100Gb/s" or "5000000". A trailing B means bytes per second.
type DataRate sim.DataRate

// Rate returns the value in bits per second.
func (r DataRate) Rate() sim.DataRate {
	return sim.DataRate(r)
}

// UnmarshalText parses a rate string.
func (r *DataRate) UnmarshalText(text []byte) error {
	rate, err := ParseDataRate(string(text))
	if err != nil {
		return err
	}

	*r = DataRate(rate)

	return nil
}

// MarshalText writes the rate with its largest unit.
func (r DataRate) MarshalText() ([]byte, error) {
	return []byte(sim.DataRate(r).String()), nil
}

// UnmarshalYAML reads the rate from a scalar node.
func (r *DataRate) UnmarshalYAML(value *yaml.Node) error {
	return r.UnmarshalText([]byte(value.Value))
}

// ParseDataRate parses a rate string into bits per second.
func ParseDataRate(s string) (sim.DataRate, error) {
	str := strings.TrimSpace(s)
	factor := 1.0

	for _, suffix := range []string{"bps", "b/s", "Bps", "B/s"} {
		if strings.HasSuffix(str, suffix) {
			str = strings.TrimSpace(strings.TrimSuffix(str, suffix))
			if suffix[0] == 'B' {
				factor = 8
			}

			break
		}
	}

	n, err := units.FromHumanSize(str)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid data rate %q", s)
	}

	if n <= 0 {
		return 0, errors.Errorf("data rate %q must be positive", s)
	}

	return sim.DataRate(float64(n) * factor), nil
}

// Vec3 is a point or a velocity as [x, y, z], in metres or metres per second.
type Vec3 [3]float64
