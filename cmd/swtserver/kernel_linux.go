//go:build linux

package main

import (
	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/sirupsen/logrus"
)

// pthreadFallbackKernel is the oldest kernel release that defaults to
// the event-loop path; kernels older than it default to the mutex/cond
// select-thread fallback for a serial device multiplexed alongside
// sockets (SPEC_FULL.md §6 "choose
// between the native epoll-backed netpoller path and the -pthread
// mutex/cond fallback path"). Go's runtime netpoller makes this
// irrelevant for the sockets themselves, but we still honor the
// teacher pack's kernel-gating idiom (runZeroInc pkg/linux/init.go) to
// pick the default when the operator didn't pass -pthread explicitly.
var pthreadFallbackKernel = kernel.VersionInfo{Kernel: 4, Major: 9, Minor: 0}

// defaultPthreadMode inspects the running kernel and reports whether
// the threaded-fallback serial loop should be used by default.
func defaultPthreadMode() bool {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		logrus.WithError(err).Warn("could not determine kernel version, defaulting to event-loop serial mode")
		return false
	}
	return kernel.CompareKernelVersion(*v, pthreadFallbackKernel) < 0
}
