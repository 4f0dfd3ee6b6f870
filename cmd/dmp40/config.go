package main

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/nasa-jpl/golab-dmp40/dmp40"
	"github.com/nasa-jpl/golab-dmp40/thorlabs/dfm"
)

// EnvPrefix is the prefix of environment variables that override the config
// file.  A double underscore descends into a section, so
// DMP40_SEQUENCE__MAX_RELAX_STEPS sets sequence.max_relax_steps.
const EnvPrefix = "DMP40_"

// DriverPaths locate the vendor libraries
type DriverPaths struct {
	Base     string `koanf:"base" yaml:"base"`
	Extended string `koanf:"extended" yaml:"extended"`
}

// Config is the full configuration of the program
type Config struct {
	// Addr is the listen address of serve
	Addr string `koanf:"addr" yaml:"addr"`

	// Endpoint is the URL stem the mirror is mounted on by serve
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`

	// LockAllowsReads lets GET requests through while a client holds the lock
	LockAllowsReads bool `koanf:"lock_allows_reads" yaml:"lock_allows_reads"`

	// Mock replaces the vendor drivers with an in-memory DMP40
	Mock bool `koanf:"mock" yaml:"mock"`

	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// Spinner shows the relax loop as a spinner instead of one line per step
	Spinner bool `koanf:"spinner" yaml:"spinner"`

	Driver DriverPaths `koanf:"driver" yaml:"driver"`

	Sequence dmp40.Options `koanf:"sequence" yaml:"sequence"`
}

// DefaultConfig is what the program does with no file, flags, or environment
func DefaultConfig() Config {
	return Config{
		Addr:     ":8000",
		Endpoint: "dmp40",
		LogLevel: "info",
		Driver: DriverPaths{
			Base:     dfm.DefaultBasePath,
			Extended: dfm.DefaultExtendedPath,
		},
		Sequence: dmp40.DefaultOptions(),
	}
}

// flagKeys maps command line flags to config keys
var flagKeys = map[string]string{
	"mock":      "mock",
	"log-level": "log_level",
	"spinner":   "spinner",
	"addr":      "addr",
	"amplitude": "sequence.zernike_amplitude",
	"zernike":   "sequence.zernike_flag",
	"part":      "sequence.part",
	"max-steps": "sequence.max_relax_steps",
	"fits":      "sequence.pattern_file",
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// loadConfig layers, lowest priority first, the defaults, the file at path,
// the environment, and any flags the user set
func loadConfig(path string, flags *pflag.FlagSet) (*koanf.Koanf, Config, error) {
	k := koanf.New(".")
	c := Config{}
	err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err != nil {
		return k, c, pkgerrors.Wrap(err, "loading defaults")
	}
	if path != "" {
		err = k.Load(file.Provider(path), yaml.Parser())
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return k, c, pkgerrors.Wrapf(err, "loading config %s", path)
		}
	}
	err = k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return k, c, pkgerrors.Wrap(err, "loading environment")
	}
	if flags != nil {
		changed := map[string]interface{}{}
		flags.Visit(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				changed[key] = f.Value.String()
			}
		})
		err = k.Load(confmap.Provider(changed, "."), nil)
		if err != nil {
			return k, c, pkgerrors.Wrap(err, "loading flags")
		}
	}
	err = k.Unmarshal("", &c)
	if err != nil {
		return k, c, pkgerrors.Wrap(err, "decoding config")
	}
	return k, c, nil
}
