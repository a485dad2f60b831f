//go:build linux

// ABOUTME: Expedited-forwarding DSCP marking for the audio socket
// ABOUTME: Linux implementation; other platforms get the no-op stub
package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const dscpEF = 46

// applySocketQoS marks the socket DSCP EF so routers that honor DiffServ
// prioritize the audio stream. Disabled clears the field.
func applySocketQoS(conn *net.UDPConn, enabled bool) error {
	if conn == nil {
		return fmt.Errorf("udp socket is nil")
	}

	tos := 0
	if enabled {
		// EF(46) shifted past the ECN bits.
		tos = dscpEF << 2
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("access socket descriptor: %w", err)
	}

	var ipErr, ipv6Err error
	controlErr := rawConn.Control(func(fd uintptr) {
		ipErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos)
		ipv6Err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	})
	if controlErr != nil {
		return fmt.Errorf("apply socket options: %w", controlErr)
	}

	if ipErr != nil && ipv6Err != nil {
		return fmt.Errorf("setsockopt failed for both IPv4 and IPv6 (ip=%v, ipv6=%v)", ipErr, ipv6Err)
	}
	return nil
}
