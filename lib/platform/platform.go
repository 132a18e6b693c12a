// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"net"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/version"
)

// Probe builds the descriptor for this process. Each call draws a new
// instance id.
func Probe(agentName string) ident.PlatformDescriptor {
	return probeFrom(agentName, systemSource{})
}

// source abstracts the host lookups so tests can substitute them.
type source interface {
	hostname() (string, error)
	interfaceAddrs() ([]net.Addr, error)
	uname() (release, machine string)
}

type systemSource struct{}

func (systemSource) hostname() (string, error)           { return os.Hostname() }
func (systemSource) interfaceAddrs() ([]net.Addr, error) { return net.InterfaceAddrs() }
func (systemSource) uname() (string, string)             { return uname() }

func probeFrom(agentName string, host source) ident.PlatformDescriptor {
	descriptor := ident.PlatformDescriptor{
		AgentName:  agentName,
		Version:    version.Short(),
		InstanceID: uuid.NewString(),
	}
	descriptor.Hostname, _ = host.hostname()
	descriptor.KernelRelease, descriptor.Machine = host.uname()
	if addrs, err := host.interfaceAddrs(); err == nil {
		descriptor.Addresses = routableAddresses(addrs)
	}
	return descriptor
}

// routableAddresses returns the sorted IPs of addrs, skipping loopback,
// link-local, and unspecified addresses.
func routableAddresses(addrs []net.Addr) []string {
	var result []string
	for _, addr := range addrs {
		var ip net.IP
		switch value := addr.(type) {
		case *net.IPNet:
			ip = value.IP
		case *net.IPAddr:
			ip = value.IP
		default:
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			continue
		}
		result = append(result, ip.String())
	}
	sort.Strings(result)
	return result
}
