// Copyright 2024 Google LLC
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

// Package ivshmem backs a shelf's shadow with a single mmap over an
// IVSHMEM (inter-VM shared memory) device's prefetchable BAR, per
// spec.md §6: probe lspci for vendor:device 1af4:1110, confirm in the
// sysfs resource table that PCI Region 2 is marked prefetchable, open the
// matching /sys/.../resourceN file and mmap it from offset 0. The BAR's
// base address and its 32/64-bit width are not parsed. Translation reuses
// internal/shadow's shadow_offset; on an as-yet-unmapped page the
// backend additionally consults a descriptor manager to bind an
// aperture entry before the access can proceed.
package ivshmem

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	vendorDeviceID = "1af4:1110"
	resourceRegion = 2
)

// Device describes the located IVSHMEM PCI function: its sysfs BDF
// (bus:device.function) address and the resourceN file to mmap.
type Device struct {
	BDF          string
	ResourcePath string
}

var barLineRE = regexp.MustCompile(`^0x([0-9a-fA-F]+)\s+0x([0-9a-fA-F]+)\s+0x([0-9a-fA-F]+)$`)

// Probe shells out to lspci looking for an IVSHMEM function (vendor:
// device 1af4:1110), then reads its sysfs resource table to confirm
// Region 2 is prefetchable, returning the device's resource2 path.
func Probe() (*Device, error) {
	out, err := exec.Command("lspci", "-D", "-d", vendorDeviceID, "-n").Output()
	if err != nil {
		return nil, fmt.Errorf("probing for ivshmem device (lspci -d %s): %w", vendorDeviceID, err)
	}
	bdf, err := parseBDF(string(out))
	if err != nil {
		return nil, err
	}

	sysfsDir := filepath.Join("/sys/bus/pci/devices", bdf)
	if err := checkResourcePrefetchable(sysfsDir, resourceRegion); err != nil {
		return nil, err
	}

	return &Device{
		BDF:          bdf,
		ResourcePath: filepath.Join(sysfsDir, fmt.Sprintf("resource%d", resourceRegion)),
	}, nil
}

func parseBDF(lspciOutput string) (string, error) {
	line := strings.TrimSpace(strings.SplitN(lspciOutput, "\n", 2)[0])
	if line == "" {
		return "", fmt.Errorf("no ivshmem device (%s) found on the PCI bus", vendorDeviceID)
	}
	bdf := strings.SplitN(line, " ", 2)[0]
	return bdf, nil
}

// checkResourcePrefetchable reads sysfs's "resource" table (one line per
// BAR: start, end, flags) and confirms bar's bit 3 (IORESOURCE_PREFETCH)
// is set.
func checkResourcePrefetchable(sysfsDir string, bar int) error {
	f, err := os.Open(filepath.Join(sysfsDir, "resource"))
	if err != nil {
		return fmt.Errorf("reading PCI resource table for %s: %w", sysfsDir, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for i := 0; scanner.Scan(); i++ {
		if i != bar {
			continue
		}
		m := barLineRE.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			return fmt.Errorf("malformed resource line for BAR %d in %s", bar, sysfsDir)
		}
		flags, err := strconv.ParseUint(m[3], 16, 64)
		if err != nil {
			return fmt.Errorf("parsing BAR %d flags in %s: %w", bar, sysfsDir, err)
		}
		const ioresourcePrefetch = 1 << 3
		if flags&ioresourcePrefetch == 0 {
			return fmt.Errorf("BAR %d of %s is not marked prefetchable", bar, sysfsDir)
		}
		return nil
	}
	return fmt.Errorf("BAR %d not present in resource table for %s", bar, sysfsDir)
}

// Map mmaps size bytes of dev's resource file read/write, shared.
func Map(dev *Device, size int) ([]byte, error) {
	f, err := os.OpenFile(dev.ResourcePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening ivshmem resource file %q: %w", dev.ResourcePath, err)
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmapping ivshmem resource file %q: %w", dev.ResourcePath, err)
	}
	return data, nil
}

// Unmap releases a mapping returned by Map.
func Unmap(data []byte) error {
	return unix.Munmap(data)
}
