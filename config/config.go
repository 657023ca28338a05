// Package config holds the description of a scenario: the simulated nodes and
// links, the tap devices bridged into them, static routes, and the run
// options. Scenarios are read from YAML or TOML files.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Mobility kinds.
const (
	ConstantPosition = "constant-position"
	ConstantVelocity = "constant-velocity"
)

// Route kinds.
const (
	RouteHost    = "host"
	RouteNetwork = "network"
	RouteDefault = "default"
)

// Attachment policies.
const (
	PolicyNearest = "nearest"
)

// Scenario is a complete run description.
type Scenario struct {
	Name       string     `yaml:"name" toml:"name"`
	Nodes      []Node     `yaml:"nodes" toml:"nodes"`
	Links      []Link     `yaml:"links" toml:"links"`
	Taps       []Tap      `yaml:"taps,omitempty" toml:"taps"`
	Routes     []Route    `yaml:"routes,omitempty" toml:"routes"`
	Cells      []Cell     `yaml:"cells,omitempty" toml:"cells"`
	Attachment Attachment `yaml:"attachment,omitempty" toml:"attachment"`
	Pcap       Pcap       `yaml:"pcap,omitempty" toml:"pcap"`
	Checksum   bool       `yaml:"checksum" toml:"checksum"`
	StopTime   Duration   `yaml:"stop_time" toml:"stop_time"`
	RealTime   bool       `yaml:"real_time" toml:"real_time"`
	MaxSleep   Duration   `yaml:"max_sleep,omitempty" toml:"max_sleep"`
	LagWarn    Duration   `yaml:"lag_warn,omitempty" toml:"lag_warn"`
	Monitor    Monitor    `yaml:"monitor,omitempty" toml:"monitor"`
	Record     Record     `yaml:"record,omitempty" toml:"record"`
	Trace      bool       `yaml:"trace,omitempty" toml:"trace"`
}

// Node describes a simulated node.
type Node struct {
	Name     string    `yaml:"name" toml:"name"`
	Links    []string  `yaml:"links,omitempty" toml:"links"`
	Mobility *Mobility `yaml:"mobility,omitempty" toml:"mobility"`
}

// Mobility places a node.
type Mobility struct {
	Kind      string   `yaml:"kind" toml:"kind"`
	Position  Vec3     `yaml:"position" toml:"position"`
	Velocity  Vec3     `yaml:"velocity,omitempty" toml:"velocity"`
	StartTime Duration `yaml:"start_time,omitempty" toml:"start_time"`
}

// Link describes a link and the address pool of its network.
type Link struct {
	Name      string   `yaml:"name" toml:"name"`
	Kind      string   `yaml:"kind" toml:"kind"`
	DataRate  DataRate `yaml:"data_rate" toml:"data_rate"`
	Delay     Duration `yaml:"delay" toml:"delay"`
	MTU       int      `yaml:"mtu,omitempty" toml:"mtu"`
	QueueSize int      `yaml:"queue_size,omitempty" toml:"queue_size"`
	Pool      string   `yaml:"pool" toml:"pool"`
	FirstHost string   `yaml:"first_host,omitempty" toml:"first_host"`
	Members   []string `yaml:"members,omitempty" toml:"members"`
}

// Tap binds a host tap device to the interface of a node on a link.
type Tap struct {
	Device string `yaml:"device" toml:"device"`
	Node   string `yaml:"node" toml:"node"`
	Link   string `yaml:"link" toml:"link"`
	NetNS  string `yaml:"netns,omitempty" toml:"netns"`
}

// Route is a static route. The output interface is given either by the
// name of the link it is on or by its index.
type Route struct {
	Node      string `yaml:"node" toml:"node"`
	Kind      string `yaml:"kind" toml:"kind"`
	Dest      string `yaml:"dest,omitempty" toml:"dest"`
	Mask      string `yaml:"mask,omitempty" toml:"mask"`
	Gateway   string `yaml:"gateway,omitempty" toml:"gateway"`
	Link      string `yaml:"link,omitempty" toml:"link"`
	Interface int    `yaml:"interface,omitempty" toml:"interface"`
}

// Cell marks a node as a cell that mobile nodes attach to.
type Cell struct {
	Node string `yaml:"node" toml:"node"`
}

// Attachment configures how mobile nodes pick their cell.
type Attachment struct {
	Policy   string   `yaml:"policy,omitempty" toml:"policy"`
	Interval Duration `yaml:"interval,omitempty" toml:"interval"`
	Link     string   `yaml:"link,omitempty" toml:"link"`
}

// Pcap configures packet capture on every interface.
type Pcap struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Prefix  string `yaml:"prefix,omitempty" toml:"prefix"`
	Dir     string `yaml:"dir,omitempty" toml:"dir"`
}

// Monitor configures the HTTP monitor.
type Monitor struct {
	Enabled     bool `yaml:"enabled" toml:"enabled"`
	Port        int  `yaml:"port,omitempty" toml:"port"`
	OpenBrowser bool `yaml:"open_browser,omitempty" toml:"open_browser"`
}

// Record configures the sqlite recorder.
type Record struct {
	Path string `yaml:"path,omitempty" toml:"path"`
}

// Load reads a scenario file. The format follows the extension: .yaml or
// .yml for YAML, .toml for TOML. Unknown keys are errors.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read scenario")
	}

	s := &Scenario{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(bytes.NewReader(data), s)
	case ".toml":
		err = decodeTOML(string(data), s)
	default:
		return nil, errors.Errorf("unknown scenario format %q", filepath.Ext(path))
	}

	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	logger().WithFields(logrus.Fields{
		"path":  path,
		"name":  s.Name,
		"nodes": len(s.Nodes),
		"links": len(s.Links),
	}).Debug("scenario loaded")

	return s, nil
}

func decodeYAML(r io.Reader, s *Scenario) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	err := dec.Decode(s)
	if err == io.EOF {
		return nil
	}

	return err
}

func decodeTOML(data string, s *Scenario) error {
	md, err := toml.Decode(data, s)
	if err != nil {
		return err
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("unknown key %s", undecoded[0])
	}

	return nil
}

// WriteYAML writes the scenario as YAML.
func (s *Scenario) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(s); err != nil {
		return errors.Wrap(err, "encode scenario")
	}

	return enc.Close()
}

// Node finds a node by name.
func (s *Scenario) Node(name string) (*Node, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].Name == name {
			return &s.Nodes[i], true
		}
	}

	return nil, false
}

// Link finds a link by name.
func (s *Scenario) Link(name string) (*Link, bool) {
	for i := range s.Links {
		if s.Links[i].Name == name {
			return &s.Links[i], true
		}
	}

	return nil, false
}

// LinkMembers returns the nodes on a link: the link's own member list
// followed by the nodes that name the link, without duplicates.
func (s *Scenario) LinkMembers(link string) []string {
	var members []string
	seen := make(map[string]bool)

	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			members = append(members, name)
		}
	}

	if l, found := s.Link(link); found {
		for _, m := range l.Members {
			add(m)
		}
	}

	for _, n := range s.Nodes {
		for _, l := range n.Links {
			if l == link {
				add(n.Name)
			}
		}
	}

	return members
}

func logger() *logrus.Entry {
	return logrus.WithField("subsystem", "config")
}
