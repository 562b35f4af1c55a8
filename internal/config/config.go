// Package config holds the run configuration shared by the index and
// classify commands. A YAML file supplies values; command-line flags with the
// same names override it.
package config

import (
	"fmt"
	"os"
	"reflect"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config keys match the long flag names.
type Config struct {
	// sampling
	K      int    `yaml:"kmer"`
	Stride int    `yaml:"inv"`
	Seed   uint32 `yaml:"seed"`
	Policy string `yaml:"policy"`

	// index build
	Index string   `yaml:"index"`
	Gids  string   `yaml:"gids"`
	Tids  string   `yaml:"tids"`
	Ref   []string `yaml:"ref"`
	Codec string   `yaml:"codec"`
	KVDir string   `yaml:"kv-dir"`

	// classification
	Reads          []string `yaml:"reads"`
	Paired         bool     `yaml:"paired"`
	Iterations     int      `yaml:"iteration"`
	MinHits        int      `yaml:"min-hits"`
	MinHitFraction float64  `yaml:"min-hit-fraction"`

	// run
	Threads   int    `yaml:"threads"`
	BatchSize int    `yaml:"batch-size"`
	Output    string `yaml:"output"`
	Format    string `yaml:"format"`
	Header    bool   `yaml:"header"`
	Summary   string `yaml:"summary"`
	Progress  bool   `yaml:"progress"`
	Quiet     bool   `yaml:"quiet"`
	Verbose   bool   `yaml:"verbose"`
}

// Default returns the built-in defaults. Threads 0 means all CPUs.
func Default() Config {
	return Config{
		K:          31,
		Stride:     1,
		Policy:     "modulo",
		Codec:      "zstd",
		Iterations: 1,
		MinHits:    1,
		BatchSize:  4096,
		Output:     "-",
		Format:     "tsv",
		Header:     true,
	}
}

// File is a parsed config file.
type File struct {
	Config
	// Given holds the keys present in the file.
	Given map[string]bool
}

// Load reads a YAML file on top of Default. Unknown keys are errors.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	f := &File{Config: Default(), Given: map[string]bool{}}
	if err := yaml.UnmarshalStrict(data, &f.Config); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	for k := range raw {
		f.Given[k] = true
	}
	return f, nil
}

// Keys lists every configuration key in declaration order.
func Keys() []string {
	t := reflect.TypeOf(Config{})
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		out = append(out, t.Field(i).Tag.Get("yaml"))
	}
	return out
}

// Overlay copies into dst every field of src whose key is not pinned.
// The CLI pins the keys of flags given explicitly on the command line.
func Overlay(dst *Config, src Config, pinned func(key string) bool) {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src)
	t := dv.Type()
	for i := 0; i < t.NumField(); i++ {
		if pinned(t.Field(i).Tag.Get("yaml")) {
			continue
		}
		dv.Field(i).Set(sv.Field(i))
	}
}

// Marshal renders cfg as YAML, e.g. to seed a config file.
func Marshal(cfg Config) ([]byte, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return b, nil
}
