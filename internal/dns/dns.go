// Package dns declares the alias record that points the public name of the
// environment at its load balancer.
package dns

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lex00/twotier-aws-go/internal/deferred"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

// RecordName is the logical name of the alias record.
const RecordName = "ARecord"

// ErrInvalidRecord is returned for a missing name or hosted zone.
var ErrInvalidRecord = errors.New("invalid DNS record")

// Target is what the alias points at.
type Target struct {
	// Resource is the load balancer the record waits for.
	Resource *stack.Resource
	DNSName  deferred.Output[string]
	ZoneID   deferred.Output[string]
}

// Options configures Declare.
type Options struct {
	Name         string
	HostedZoneID string
}

// Declare adds an A alias record for opts.Name in opts.HostedZoneID. The alias
// properties are deferred, so the record is only submitted once the target's
// DNS name is known.
func Declare(s *stack.Stack, target Target, opts Options) (*stack.Resource, error) {
	if strings.TrimSpace(opts.Name) == "" || strings.TrimSpace(opts.HostedZoneID) == "" {
		return nil, fmt.Errorf("%w: name %q, hosted zone %q", ErrInvalidRecord, opts.Name, opts.HostedZoneID)
	}
	r, err := s.Declare(RecordName, stack.TypeRecordSet, stack.Properties{
		"Name":         opts.Name,
		"HostedZoneId": opts.HostedZoneID,
		"Type":         "A",
		"AliasTarget": map[string]any{
			"DNSName":              target.DNSName,
			"HostedZoneId":         target.ZoneID,
			"EvaluateTargetHealth": true,
		},
	}, stack.DependsOn(target.Resource))
	if err != nil {
		return nil, fmt.Errorf("declaring alias record: %w", err)
	}
	return r, nil
}
