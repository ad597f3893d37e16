// Package network allocates subnet address ranges across availability zones and
// declares the VPC, subnets, routing and internet gateway of an environment.
package network

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// MaxSubnets is the number of /24 blocks available in the third octet (1..254).
const MaxSubnets = 254

var (
	// ErrNoZones is returned when no availability zone is configured.
	ErrNoZones = errors.New("at least one availability zone is required")
	// ErrCapacityExceeded is returned when the subnets do not fit the third octet.
	ErrCapacityExceeded = errors.New("subnet count exceeds address capacity")
	// ErrInvalidPrefix is returned for a malformed CIDR prefix.
	ErrInvalidPrefix = errors.New("invalid CIDR prefix")
	// ErrNegativeCount is returned for a negative subnet count.
	ErrNegativeCount = errors.New("subnet count must not be negative")
)

// AllocationRequest describes the subnets to carve out of the VPC.
type AllocationRequest struct {
	Public  int
	Private int
	// Prefix is either two octets ("10.0") or the VPC block ("10.0.0.0/16").
	Prefix string
	// Region is prepended to each zone suffix.
	Region string
	Zones  []string
	// PublicName and PrivateName are suffixed with the 1-based index.
	PublicName  string
	PrivateName string
}

// SubnetSpec is one allocated subnet.
type SubnetSpec struct {
	Name   string
	CIDR   netip.Prefix
	Zone   string
	Public bool
	// Index is the position within the tier.
	Index int
}

// Allocation is the result of Allocate.
type Allocation struct {
	VPC     netip.Prefix
	Public  []SubnetSpec
	Private []SubnetSpec
}

// All returns public then private subnets.
func (a Allocation) All() []SubnetSpec {
	out := make([]SubnetSpec, 0, len(a.Public)+len(a.Private))
	out = append(out, a.Public...)
	return append(out, a.Private...)
}

// Allocate assigns subnet k (public first, then private) the block
// {prefix}.{k+1}.0/24. Zones rotate within each tier independently, so the
// first public and the first private subnet share a zone.
func Allocate(req AllocationRequest) (Allocation, error) {
	if req.Public < 0 || req.Private < 0 {
		return Allocation{}, fmt.Errorf("%w: public=%d private=%d", ErrNegativeCount, req.Public, req.Private)
	}
	if len(req.Zones) == 0 {
		return Allocation{}, ErrNoZones
	}
	if total := req.Public + req.Private; total > MaxSubnets {
		return Allocation{}, fmt.Errorf("%w: %d subnets requested, at most %d fit", ErrCapacityExceeded, total, MaxSubnets)
	}

	vpc, err := ParsePrefix(req.Prefix)
	if err != nil {
		return Allocation{}, err
	}
	base := vpc.Addr().As4()

	tier := func(count, offset int, name string, public bool) []SubnetSpec {
		specs := make([]SubnetSpec, 0, count)
		for i := 0; i < count; i++ {
			addr := netip.AddrFrom4([4]byte{base[0], base[1], byte(offset + i + 1), 0})
			specs = append(specs, SubnetSpec{
				Name:   name + strconv.Itoa(i+1),
				CIDR:   netip.PrefixFrom(addr, 24),
				Zone:   req.Region + req.Zones[i%len(req.Zones)],
				Public: public,
				Index:  i,
			})
		}
		return specs
	}

	return Allocation{
		VPC:     vpc,
		Public:  tier(req.Public, 0, req.PublicName, true),
		Private: tier(req.Private, req.Public, req.PrivateName, false),
	}, nil
}

// ParsePrefix returns the VPC block for a prefix given as two octets or as an
// IPv4 CIDR no longer than /16.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
		}
		if !p.Addr().Is4() || p.Bits() > 16 {
			return netip.Prefix{}, fmt.Errorf("%w: %s must be an IPv4 block of /16 or larger", ErrInvalidPrefix, s)
		}
		return p.Masked(), nil
	}

	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return netip.Prefix{}, fmt.Errorf("%w: %q, expected two octets such as 10.0", ErrInvalidPrefix, s)
	}
	var octets [4]byte
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: %q: octet %q", ErrInvalidPrefix, s, part)
		}
		octets[i] = byte(n)
	}
	return netip.PrefixFrom(netip.AddrFrom4(octets), 16), nil
}

// Overlaps reports whether two blocks share any address.
func Overlaps(a, b netip.Prefix) bool {
	return a.Overlaps(b)
}

// Verify checks that every subnet lies inside the VPC and that no two subnets
// overlap.
func (a Allocation) Verify() error {
	all := a.All()
	for i, s := range all {
		if !a.VPC.Contains(s.CIDR.Addr()) || s.CIDR.Bits() < a.VPC.Bits() {
			return fmt.Errorf("subnet %s (%s) is outside %s", s.Name, s.CIDR, a.VPC)
		}
		for _, other := range all[i+1:] {
			if Overlaps(s.CIDR, other.CIDR) {
				return fmt.Errorf("subnet %s (%s) overlaps %s (%s)", s.Name, s.CIDR, other.Name, other.CIDR)
			}
		}
	}
	return nil
}
