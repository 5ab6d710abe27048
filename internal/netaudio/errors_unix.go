//go:build !windows

package netaudio

import "syscall"

const syscallAddrInUse = syscall.EADDRINUSE
