package cluster

import (
	"fmt"
	"net"
	"sort"
	"strconv"
)

// PortAllocator hands out consecutive ports per host, starting at a base
// port. It exists so a spec can be built from bare hostnames without two
// tasks on the same host colliding.
type PortAllocator struct {
	base int
	next map[string]int
}

func NewPortAllocator(base int) *PortAllocator {
	if base <= 0 {
		base = DefaultBasePort
	}

	return &PortAllocator{
		base: base,
		next: make(map[string]int),
	}
}

// Next returns host:port for the given host, advancing the host's counter.
func (pa *PortAllocator) Next(host string) string {
	port, ok := pa.next[host]
	if !ok {
		port = pa.base
	}
	pa.next[host] = port + 1

	return net.JoinHostPort(host, strconv.Itoa(port))
}

// SplitAddress breaks a cluster address into host and numeric port.
func SplitAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrBadAddress, addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrBadAddress, addr)
	}

	return host, port, nil
}

// Build assembles a validated spec from per-role host lists. Hosts may
// repeat, across and within roles.
func Build(hosts map[Role][]string, basePort int) (Spec, error) {
	if len(hosts) == 0 {
		return nil, ErrEmptySpec
	}

	roles := make([]Role, 0, len(hosts))
	for role := range hosts {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	pa := NewPortAllocator(basePort)
	spec := make(Spec, len(hosts))
	for _, role := range roles {
		hs := hosts[role]
		if len(hs) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrNoAddresses, string(role))
		}
		addrs := make([]string, 0, len(hs))
		for _, h := range hs {
			addrs = append(addrs, pa.Next(h))
		}
		spec[role] = addrs
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return spec, nil
}
