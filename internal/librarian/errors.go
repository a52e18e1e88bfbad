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

package librarian

import (
	"fmt"
	"syscall"
)

// EngineError is the sum-type result every handler fails with: a POSIX
// errno plus a human-readable message. The dispatcher never returns a
// bare Go error to a caller; every failure path goes through one of the
// constructors below so the errno is always set before the handler
// returns.
type EngineError struct {
	Errno   syscall.Errno
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s (errno %d)", e.Message, e.Errno)
}

func newErr(errno syscall.Errno, format string, args ...interface{}) *EngineError {
	return &EngineError{Errno: errno, Message: fmt.Sprintf(format, args...)}
}

func errInval(format string, args ...interface{}) *EngineError {
	return newErr(syscall.EINVAL, format, args...)
}

func errNoEnt(format string, args ...interface{}) *EngineError {
	return newErr(syscall.ENOENT, format, args...)
}

func errBusy(format string, args ...interface{}) *EngineError {
	return newErr(syscall.EBUSY, format, args...)
}

func errNoSpc(format string, args ...interface{}) *EngineError {
	return newErr(syscall.ENOSPC, format, args...)
}

func errBadF(format string, args ...interface{}) *EngineError {
	return newErr(syscall.EBADF, format, args...)
}

func errBadFd(format string, args ...interface{}) *EngineError {
	return newErr(syscall.EBADFD, format, args...)
}

func errRemoteIO(format string, args ...interface{}) *EngineError {
	return newErr(syscall.EREMOTEIO, format, args...)
}

func errStale(format string, args ...interface{}) *EngineError {
	return newErr(syscall.ESTALE, format, args...)
}

func errUnclean(format string, args ...interface{}) *EngineError {
	return newErr(syscall.EUCLEAN, format, args...)
}

func errNoSys(format string, args ...interface{}) *EngineError {
	return newErr(syscall.ENOSYS, format, args...)
}

// fromGoError wraps an unexpected lower-layer error (e.g. a store
// backend failure that isn't itself an EngineError) as EREMOTEIO,
// preserving the underlying message for debugging rather than hiding
// it behind a generic string.
func fromGoError(err error) *EngineError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*EngineError); ok {
		return ee
	}
	return errRemoteIO("unexpected store error: %v", err)
}
