// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the librariand daemon's full configuration tree, bound from
// flags and an optional YAML file by cmd/librariand.
type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	Topology TopologyConfig `yaml:"topology"`

	Store StoreConfig `yaml:"store"`

	Shadow ShadowConfig `yaml:"shadow"`

	Descriptor DescriptorConfig `yaml:"descriptor"`

	Transport TransportConfig `yaml:"transport"`

	Logging LoggingConfig `yaml:"logging"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

// TopologyConfig locates the machine topology document this node boots
// from (see internal/topology).
type TopologyConfig struct {
	ConfigFile ResolvedPath `yaml:"config-file"`

	NodeID int `yaml:"node-id"`
}

// StoreConfig selects and configures the metadata store backend.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`

	// DSN is the sqlstore database/sql data source name; unused for the
	// memory backend.
	DSN string `yaml:"dsn"`
}

// ShadowConfig selects and configures the shelf data-path backend.
type ShadowConfig struct {
	Backend ShadowBackend `yaml:"backend"`

	// Dir is the per-shelf-file root for the directory backend.
	Dir ResolvedPath `yaml:"dir"`

	// FlatFile is the single pre-sized file path for the flatfile backend.
	FlatFile ResolvedPath `yaml:"flat-file"`

	// DevicePath is the mmap device (or aperture base) for the ivshmem
	// backend.
	DevicePath string `yaml:"device-path"`
}

// DescriptorConfig configures the hardware aperture table.
type DescriptorConfig struct {
	// DevicePath is the descriptor ioctl character device.
	DevicePath string `yaml:"device-path"`

	// Indices is the caller-supplied set of aperture indices available to
	// the descriptor manager. Defaults to {0,1,2} for testing.
	Indices []int `yaml:"indices"`
}

// TransportConfig configures the client-facing command socket.
type TransportConfig struct {
	SocketPath ResolvedPath `yaml:"socket-path"`

	MetricsAddr string `yaml:"metrics-addr"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "librariand", "The application name of this daemon instance.")
	if err = viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal consistency invariants are violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex")); err != nil {
		return err
	}

	flagSet.StringP("topology-file", "", "", "Path to the machine topology JSON document.")
	if err = viper.BindPFlag("topology.config-file", flagSet.Lookup("topology-file")); err != nil {
		return err
	}

	flagSet.IntP("node-id", "", 1, "This node's 1-based node id within the topology.")
	if err = viper.BindPFlag("topology.node-id", flagSet.Lookup("node-id")); err != nil {
		return err
	}

	flagSet.StringP("store-backend", "", "memory", "Metadata store backend: memory or sql.")
	if err = viper.BindPFlag("store.backend", flagSet.Lookup("store-backend")); err != nil {
		return err
	}

	flagSet.StringP("store-dsn", "", "", "database/sql DSN for the sql store backend.")
	if err = viper.BindPFlag("store.dsn", flagSet.Lookup("store-dsn")); err != nil {
		return err
	}

	flagSet.StringP("shadow-backend", "", "directory", "Shelf data-path backend: directory, flatfile or ivshmem.")
	if err = viper.BindPFlag("shadow.backend", flagSet.Lookup("shadow-backend")); err != nil {
		return err
	}

	flagSet.StringP("shadow-dir", "", "", "Per-shelf-file root for the directory backend.")
	if err = viper.BindPFlag("shadow.dir", flagSet.Lookup("shadow-dir")); err != nil {
		return err
	}

	flagSet.StringP("shadow-flat-file", "", "", "Single pre-sized file path for the flatfile backend.")
	if err = viper.BindPFlag("shadow.flat-file", flagSet.Lookup("shadow-flat-file")); err != nil {
		return err
	}

	flagSet.StringP("shadow-device-path", "", "", "mmap device path for the ivshmem backend.")
	if err = viper.BindPFlag("shadow.device-path", flagSet.Lookup("shadow-device-path")); err != nil {
		return err
	}

	flagSet.StringP("descriptor-device-path", "", "/dev/descioctl", "Descriptor ioctl character device path.")
	if err = viper.BindPFlag("descriptor.device-path", flagSet.Lookup("descriptor-device-path")); err != nil {
		return err
	}

	flagSet.IntSliceP("descriptor-indices", "", []int{0, 1, 2}, "Aperture indices available to the descriptor manager.")
	if err = viper.BindPFlag("descriptor.indices", flagSet.Lookup("descriptor-indices")); err != nil {
		return err
	}

	flagSet.StringP("socket-path", "", "/run/librariand.sock", "Unix socket the command engine listens on.")
	if err = viper.BindPFlag("transport.socket-path", flagSet.Lookup("socket-path")); err != nil {
		return err
	}

	flagSet.StringP("metrics-addr", "", "127.0.0.1:9401", "Address the Prometheus /metrics endpoint listens on.")
	if err = viper.BindPFlag("transport.metrics-addr", flagSet.Lookup("metrics-addr")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Minimum log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log output format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file; empty logs to stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	return nil
}
