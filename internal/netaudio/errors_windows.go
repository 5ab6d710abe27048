//go:build windows

package netaudio

import "syscall"

// WSAEADDRINUSE
const syscallAddrInUse = syscall.Errno(10048)
