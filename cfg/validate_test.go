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
	"testing"

	"github.com/stretchr/testify/assert"
)

func validLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{
		BackupFileCount: 0,
		Compress:        false,
		MaxFileSizeMb:   1,
	}
}

func validTopologyConfig() TopologyConfig {
	return TopologyConfig{ConfigFile: "/etc/lfs/topology.json", NodeID: 1}
}

func validDescriptorConfig() DescriptorConfig {
	return DescriptorConfig{DevicePath: "/dev/descioctl", Indices: []int{0, 1, 2}}
}

func TestValidateConfig(t *testing.T) {
	testCases := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid memory + directory",
			config: &Config{
				Logging:    LoggingConfig{LogRotate: validLogRotateConfig()},
				Topology:   validTopologyConfig(),
				Store:      StoreConfig{Backend: StoreBackendMemory},
				Shadow:     ShadowConfig{Backend: ShadowBackendDirectory, Dir: "/var/lib/librarian/shelves"},
				Descriptor: validDescriptorConfig(),
			},
			wantErr: false,
		},
		{
			name: "sql backend missing dsn",
			config: &Config{
				Logging:    LoggingConfig{LogRotate: validLogRotateConfig()},
				Topology:   validTopologyConfig(),
				Store:      StoreConfig{Backend: StoreBackendSQL},
				Shadow:     ShadowConfig{Backend: ShadowBackendDirectory, Dir: "/x"},
				Descriptor: validDescriptorConfig(),
			},
			wantErr: true,
		},
		{
			name: "ivshmem backend missing device path",
			config: &Config{
				Logging:    LoggingConfig{LogRotate: validLogRotateConfig()},
				Topology:   validTopologyConfig(),
				Store:      StoreConfig{Backend: StoreBackendMemory},
				Shadow:     ShadowConfig{Backend: ShadowBackendIVSHMEM},
				Descriptor: validDescriptorConfig(),
			},
			wantErr: true,
		},
		{
			name: "node id zero",
			config: &Config{
				Logging:    LoggingConfig{LogRotate: validLogRotateConfig()},
				Topology:   TopologyConfig{ConfigFile: "/etc/lfs/topology.json", NodeID: 0},
				Store:      StoreConfig{Backend: StoreBackendMemory},
				Shadow:     ShadowConfig{Backend: ShadowBackendDirectory, Dir: "/x"},
				Descriptor: validDescriptorConfig(),
			},
			wantErr: true,
		},
		{
			name: "empty descriptor indices",
			config: &Config{
				Logging:    LoggingConfig{LogRotate: validLogRotateConfig()},
				Topology:   validTopologyConfig(),
				Store:      StoreConfig{Backend: StoreBackendMemory},
				Shadow:     ShadowConfig{Backend: ShadowBackendDirectory, Dir: "/x"},
				Descriptor: DescriptorConfig{DevicePath: "/dev/descioctl"},
			},
			wantErr: true,
		},
		{
			name: "invalid log rotate",
			config: &Config{
				Logging:    LoggingConfig{LogRotate: LogRotateConfig{MaxFileSizeMb: 0}},
				Topology:   validTopologyConfig(),
				Store:      StoreConfig{Backend: StoreBackendMemory},
				Shadow:     ShadowConfig{Backend: ShadowBackendDirectory, Dir: "/x"},
				Descriptor: validDescriptorConfig(),
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateConfig(tc.config)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRationalizeAppliesDefaults(t *testing.T) {
	c := &Config{Topology: validTopologyConfig()}
	err := Rationalize(c)
	assert.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, c.Descriptor.Indices)
	assert.Equal(t, DefaultDescriptorDevicePath, c.Descriptor.DevicePath)
	assert.Equal(t, ResolvedPath(DefaultSocketPath), c.Transport.SocketPath)
	assert.Equal(t, DefaultMetricsAddr, c.Transport.MetricsAddr)
}

func TestRationalizeDebugForcesTraceSeverity(t *testing.T) {
	c := &Config{Topology: validTopologyConfig(), Debug: DebugConfig{LogMutex: true}}
	err := Rationalize(c)
	assert.NoError(t, err)
	assert.Equal(t, TraceLogSeverity, c.Logging.Severity)
}
