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

// Package cmd is the librariand entrypoint: flag/config binding,
// topology load, store/engine/shadow/descriptor construction, and the
// wire server's accept loop.
package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/rackscale/lfs-librarian/cfg"
	"github.com/rackscale/lfs-librarian/internal/bookpolicy"
	"github.com/rackscale/lfs-librarian/internal/descriptor"
	"github.com/rackscale/lfs-librarian/internal/librarian"
	"github.com/rackscale/lfs-librarian/internal/logger"
	"github.com/rackscale/lfs-librarian/internal/shadow"
	"github.com/rackscale/lfs-librarian/internal/shadow/ivshmem"
	"github.com/rackscale/lfs-librarian/internal/store"
	"github.com/rackscale/lfs-librarian/internal/store/memstore"
	"github.com/rackscale/lfs-librarian/internal/store/sqlstore"
	"github.com/rackscale/lfs-librarian/internal/topology"
	"github.com/rackscale/lfs-librarian/internal/util"
	"github.com/rackscale/lfs-librarian/internal/wire"
	"github.com/rackscale/lfs-librarian/metrics"
)

var (
	cfgFile       string
	dumpConfig    bool
	bindErr       error
	configFileErr error
	unmarshalErr  error
	daemonConfig  cfg.Config
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "librariand [flags]",
	Short: "Run the LFS librarian command engine and shelf data-path daemon",
	Long: `librariand is the metadata and data-path daemon for LFS, a
distributed filesystem over fabric-attached NVM. It serves shelf
lifecycle, xattr and book-allocation commands over a Unix domain
socket, and backs shelf reads/writes through a configurable shadow
(directory, flat-file, or IVSHMEM aperture).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.Rationalize(&daemonConfig); err != nil {
			return fmt.Errorf("rationalizing configuration: %w", err)
		}
		if err := cfg.ValidateConfig(&daemonConfig); err != nil {
			return fmt.Errorf("validating configuration: %w", err)
		}
		if dumpConfig {
			out, err := yaml.Marshal(&daemonConfig)
			if err != nil {
				return fmt.Errorf("marshaling effective configuration: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		}
		return run(&daemonConfig)
	},
}

// run wires together the daemon's components and serves until one of
// the listeners fails. Failures here are the "fatal (process exit)"
// class named in spec.md §7: store init, a missing descriptor device
// under IVSHMEM/FAM, and a topology NVM total conflict (surfaced from
// topology.Load itself) all return a non-nil error and Execute exits
// nonzero.
func run(c *cfg.Config) error {
	if err := logger.InitLogFile(c.Logging); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logger.SetLogFormat(c.Logging.Format)

	topo, err := topology.Load(string(c.Topology.ConfigFile))
	if err != nil {
		return fmt.Errorf("loading topology: %w", err)
	}

	st, err := openStore(c, topo)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	policies := bookpolicy.NewRegistry()
	engine := librarian.New(st, policies, version)

	backend, err := openShadowBackend(c, topo)
	if err != nil {
		return fmt.Errorf("initializing shadow backend: %w", err)
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	metricsHandle := metrics.NewHandle(reg)

	server := wire.NewServer(engine, metricsHandle)
	metricsServer := wire.NewMetricsServer(c.Transport.MetricsAddr, reg)

	// Either listener failing should tear down the other rather than
	// leaving it to serve alone; errgroup's derived context is canceled
	// the moment the first Go func returns a non-nil error.
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(metricsServer.ListenAndServe)
	g.Go(func() error { return server.Serve(string(c.Transport.SocketPath)) })
	go func() {
		<-ctx.Done()
		metricsServer.Shutdown(context.Background())
		server.Close()
	}()

	logger.Infof("librariand listening on %s (metrics on %s)", c.Transport.SocketPath, c.Transport.MetricsAddr)
	return g.Wait()
}

// openStore constructs and seeds the configured metadata store backend
// from the topology's per-IG book layout.
func openStore(c *cfg.Config, topo *topology.Topology) (store.Store, error) {
	globals := store.Globals{
		BookSizeBytes: topo.BookSizeBytes,
		NVMBytesTotal: topo.NVMBytesTotal,
		BooksPerIG:    topo.BooksPerIG,
		Version:       version,
	}

	if !cfg.IsSQLStore(c) {
		return memstore.New(globals, booksPerNode(topo)), nil
	}

	sq, err := sqlstore.Open(c.Store.DSN)
	if err != nil {
		return nil, err
	}
	if err := sq.SeedGlobals(globals); err != nil {
		sq.Close()
		return nil, fmt.Errorf("seeding globals: %w", err)
	}
	if err := sq.SeedBooks(seedBooks(topo)); err != nil {
		sq.Close()
		return nil, fmt.Errorf("seeding books: %w", err)
	}
	return sq, nil
}

// booksPerNode converts topology's IG-keyed book counts to the
// node-keyed shape memstore.New expects, under the 1:1 IG<->node rule
// (node = IG+1).
func booksPerNode(topo *topology.Topology) map[int]int {
	out := make(map[int]int, len(topo.BooksPerIG))
	for ig, count := range topo.BooksPerIG {
		out[ig+1] = count
	}
	return out
}

// seedBooks builds the initial FREE book rows for a fresh sqlstore,
// one per (IG, in-IG book number) pair named by the topology.
func seedBooks(topo *topology.Topology) []store.Book {
	var books []store.Book
	var nextID uint64 = 1
	igs := make([]int, 0, len(topo.BooksPerIG))
	for ig := range topo.BooksPerIG {
		igs = append(igs, ig)
	}
	sort.Ints(igs)
	for _, ig := range igs {
		count := topo.BooksPerIG[ig]
		for bn := 0; bn < count; bn++ {
			books = append(books, store.Book{
				ID:       nextID,
				NodeID:   ig + 1,
				IG:       ig,
				BookNum:  bn,
				State:    store.BookFree,
				SizeByte: topo.BookSizeBytes,
			})
			nextID++
		}
	}
	return books
}

// openShadowBackend builds the configured shelf data-path backend.
func openShadowBackend(c *cfg.Config, topo *topology.Topology) (shadow.Backend, error) {
	switch c.Shadow.Backend {
	case cfg.ShadowBackendDirectory:
		return shadow.NewDirectoryBackend(string(c.Shadow.Dir)), nil

	case cfg.ShadowBackendFlatFile:
		translator := shadow.NewTranslator(topo.BookSizeBytes, topo.BooksPerIG)
		return shadow.OpenFlatFile(string(c.Shadow.FlatFile), topo.NVMBytesTotal, translator)

	case cfg.ShadowBackendIVSHMEM:
		return openFAMBackend(c, topo)

	default:
		return nil, fmt.Errorf("unknown shadow backend %q", c.Shadow.Backend)
	}
}

func openFAMBackend(c *cfg.Config, topo *topology.Topology) (shadow.Backend, error) {
	device, err := descriptor.OpenDevice(c.Descriptor.DevicePath)
	if err != nil {
		return nil, fmt.Errorf("opening descriptor device %q: %w", c.Descriptor.DevicePath, err)
	}

	manager := descriptor.NewManager(c.Descriptor.Indices, device)

	translator := shadow.NewTranslator(topo.BookSizeBytes, topo.BooksPerIG)
	mapping, err := mapIVSHMEM(topo)
	if err != nil {
		return nil, err
	}
	return shadow.NewFAMBackend(mapping, topo.BookSizeBytes, translator, manager, os.Getpid()), nil
}

// mapIVSHMEM probes the IVSHMEM PCI function and mmaps its prefetchable
// BAR, sized to the topology's aggregate NVM total: the flat physical
// address space shadow_offset indexes into.
func mapIVSHMEM(topo *topology.Topology) ([]byte, error) {
	dev, err := ivshmem.Probe()
	if err != nil {
		return nil, fmt.Errorf("probing ivshmem device: %w", err)
	}
	mapping, err := ivshmem.Map(dev, int(topo.NVMBytesTotal))
	if err != nil {
		return nil, fmt.Errorf("mapping ivshmem device %s: %w", dev.BDF, err)
	}
	return mapping, nil
}

// Execute runs the daemon, writing a crash report via CrashWriter
// before letting a panic continue to terminate the process.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			cw := &CrashWriter{fileName: crashLogPathFor(daemonConfig.Logging)}
			fmt.Fprintf(cw, "librariand panic: %v\n%s\n", r, debug.Stack())
			panic(r)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to the config-file")
	rootCmd.PersistentFlags().BoolVar(&dumpConfig, "dump-config", false, "Print the rationalized, validated configuration as YAML and exit")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&daemonConfig, viper.DecodeHook(cfg.DecodeHook()))
		return
	}
	resolved, err := util.GetResolvedPath(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("error while resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&daemonConfig, viper.DecodeHook(cfg.DecodeHook()))
}
