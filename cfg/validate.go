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

import "fmt"

const (
	NodeIDInvalidValueError        = "node-id must be >= 1"
	TopologyFileRequiredError      = "topology.config-file is required"
	StoreDSNRequiredError          = "store.dsn is required when store.backend is sql"
	ShadowDirRequiredError         = "shadow.dir is required when shadow.backend is directory"
	ShadowFlatFileRequiredError    = "shadow.flat-file is required when shadow.backend is flatfile"
	ShadowDevicePathRequiredError  = "shadow.device-path is required when shadow.backend is ivshmem"
	DescriptorIndicesRequiredError = "descriptor.indices must not be empty"
)

func isValidLogRotateConfig(config *LogRotateConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be at least 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidStoreConfig(c *StoreConfig) error {
	if c.Backend == StoreBackendSQL && c.DSN == "" {
		return fmt.Errorf(StoreDSNRequiredError)
	}
	return nil
}

func isValidShadowConfig(c *ShadowConfig) error {
	switch c.Backend {
	case ShadowBackendDirectory:
		if string(c.Dir) == "" {
			return fmt.Errorf(ShadowDirRequiredError)
		}
	case ShadowBackendFlatFile:
		if string(c.FlatFile) == "" {
			return fmt.Errorf(ShadowFlatFileRequiredError)
		}
	case ShadowBackendIVSHMEM:
		if c.DevicePath == "" {
			return fmt.Errorf(ShadowDevicePathRequiredError)
		}
	}
	return nil
}

func isValidDescriptorConfig(c *DescriptorConfig) error {
	if len(c.Indices) == 0 {
		return fmt.Errorf(DescriptorIndicesRequiredError)
	}
	return nil
}

func isValidTopologyConfig(c *TopologyConfig) error {
	if string(c.ConfigFile) == "" {
		return fmt.Errorf(TopologyFileRequiredError)
	}
	if c.NodeID < 1 {
		return fmt.Errorf(NodeIDInvalidValueError)
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	var err error

	if err = isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	if err = isValidTopologyConfig(&config.Topology); err != nil {
		return fmt.Errorf("error parsing topology config: %w", err)
	}

	if err = isValidStoreConfig(&config.Store); err != nil {
		return fmt.Errorf("error parsing store config: %w", err)
	}

	if err = isValidShadowConfig(&config.Shadow); err != nil {
		return fmt.Errorf("error parsing shadow config: %w", err)
	}

	if err = isValidDescriptorConfig(&config.Descriptor); err != nil {
		return fmt.Errorf("error parsing descriptor config: %w", err)
	}

	return nil
}
