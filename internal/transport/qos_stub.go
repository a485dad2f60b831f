//go:build !linux

// ABOUTME: No-op QoS marking for platforms without IP_TOS access
package transport

import "net"

func applySocketQoS(conn *net.UDPConn, enabled bool) error {
	return nil
}
