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

package descriptor

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// regPair is the 2xu64 buffer transferred on every descriptor ioctl:
// {index, value}. Its layout must match the device's expectation
// bit-for-bit, so the struct carries no padding beyond the two u64s.
type regPair struct {
	Index uint64
	Value uint64
}

// Linux-style _IOWR encoding (direction | size << 16 | magic << 8 | nr)
// for the descriptor device's two commands, each transferring a
// regPair.
const (
	iocRead  = 2
	iocWrite = 1
	iocMagic = 0xDE

	iocNrReadDescriptor  = 1
	iocNrWriteDescriptor = 2
)

var (
	ioctlReadDescriptor  = iowr(iocMagic, iocNrReadDescriptor, unsafe.Sizeof(regPair{}))
	ioctlWriteDescriptor = iowr(iocMagic, iocNrWriteDescriptor, unsafe.Sizeof(regPair{}))
)

func iowr(magic, nr byte, size uintptr) uintptr {
	return (uintptr(iocRead|iocWrite) << 30) | (size << 16) | (uintptr(magic) << 8) | uintptr(nr)
}

// Device is the character-device ioctl transport the manager programs
// hardware descriptors through. The real device lives at the fixed path
// named by cfg.DescriptorConfig.DevicePath (e.g. "/dev/descioctl");
// tests substitute a fake that just records writes.
type Device interface {
	// WriteDescriptor programs the register at index to value.
	WriteDescriptor(index int, value uint64) error
	// ReadDescriptor reads back the raw register value at index,
	// including its valid bit (callers mask it before decoding the LZA,
	// per spec.md §4.5).
	ReadDescriptor(index int) (uint64, error)
	Close() error
}

type ioctlDevice struct {
	f *os.File
}

// OpenDevice opens the descriptor character device at path.
func OpenDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening descriptor device %q: %w", path, err)
	}
	return &ioctlDevice{f: f}, nil
}

func (d *ioctlDevice) WriteDescriptor(index int, value uint64) error {
	pair := regPair{Index: uint64(index), Value: value}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), ioctlWriteDescriptor, uintptr(unsafe.Pointer(&pair)))
	if errno != 0 {
		return fmt.Errorf("ioctl write descriptor index %d: %w", index, errno)
	}
	return nil
}

func (d *ioctlDevice) ReadDescriptor(index int) (uint64, error) {
	pair := regPair{Index: uint64(index)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), ioctlReadDescriptor, uintptr(unsafe.Pointer(&pair)))
	if errno != 0 {
		return 0, fmt.Errorf("ioctl read descriptor index %d: %w", index, errno)
	}
	return pair.Value, nil
}

func (d *ioctlDevice) Close() error {
	return d.f.Close()
}
