// Package database declares the managed relational database of an
// environment together with its parameter group and private subnet group.
package database

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lex00/twotier-aws-go/internal/deferred"
	"github.com/lex00/twotier-aws-go/internal/stack"
	"github.com/lex00/twotier-aws-go/intrinsics"
)

// ErrNoPrivateSubnets is returned when there is no private subnet to place the
// database in.
var ErrNoPrivateSubnets = errors.New("database requires at least one private subnet")

// Logical names of the declared resources.
const (
	ParameterGroupName = "PostgresParameterGroup"
	SubnetGroupName    = "RdsSubnetGroup"
	InstanceName       = "RdsInstance"
)

// Options configures Declare.
type Options struct {
	AllocatedStorage int
	StorageType      string
	Engine           string
	EngineVersion    string
	InstanceClass    string
	Username         string
	Password         string
	Name             string
	// Family is the parameter group family, e.g. "postgres14".
	Family     string
	Port       int
	Parameters map[string]string
	Tags       map[string]string
}

// Database holds the declared database resources and its late-bound endpoint.
type Database struct {
	ParameterGroup *stack.Resource
	SubnetGroup    *stack.Resource
	Instance       *stack.Resource

	// Address is the endpoint host, known once the instance exists.
	Address deferred.Output[string]
	// Port is the endpoint port, known once the instance exists.
	Port deferred.Output[string]
}

// Declare adds the parameter group, the subnet group over privateSubnets and
// the instance guarded by dataGroup.
func Declare(s *stack.Stack, privateSubnets []*stack.Resource, dataGroup *stack.Resource, opts Options) (*Database, error) {
	if len(privateSubnets) == 0 {
		return nil, ErrNoPrivateSubnets
	}

	db := &Database{}
	var err error

	db.ParameterGroup, err = s.Declare(ParameterGroupName, stack.TypeDBParameterGroup, stack.Properties{
		"Family":      opts.Family,
		"Description": fmt.Sprintf("%s parameters", opts.Family),
		"Parameters":  parameters(opts.Parameters),
		"Tags":        intrinsics.Tags("postgres-parameter-group", opts.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("declaring parameter group: %w", err)
	}

	subnetIDs := make([]any, len(privateSubnets))
	for i, subnet := range privateSubnets {
		subnetIDs[i] = subnet.ID()
	}
	db.SubnetGroup, err = s.Declare(SubnetGroupName, stack.TypeDBSubnetGroup, stack.Properties{
		"DBSubnetGroupDescription": "RDS Subnet Group",
		"SubnetIds":                subnetIDs,
		"Tags":                     intrinsics.Tags("RDS Subnet Group", opts.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("declaring subnet group: %w", err)
	}

	props := stack.Properties{
		"AllocatedStorage":     strconv.Itoa(opts.AllocatedStorage),
		"StorageType":          opts.StorageType,
		"Engine":               opts.Engine,
		"EngineVersion":        opts.EngineVersion,
		"DBInstanceClass":      opts.InstanceClass,
		"MasterUsername":       opts.Username,
		"MasterUserPassword":   opts.Password,
		"DBName":               opts.Name,
		"DBParameterGroupName": db.ParameterGroup.ID(),
		"DBSubnetGroupName":    db.SubnetGroup.ID(),
		"VPCSecurityGroups":    []any{dataGroup.ID()},
		"PubliclyAccessible":   false,
		"MultiAZ":              false,
		"Tags":                 intrinsics.Tags("RDSInstance", opts.Tags),
	}
	if opts.Port != 0 {
		props["Port"] = strconv.Itoa(opts.Port)
	}
	// No snapshot is retained when the instance is deleted.
	db.Instance, err = s.Declare(InstanceName, stack.TypeDBInstance, props, stack.WithDeletionPolicy(stack.DeletionPolicyDelete))
	if err != nil {
		return nil, fmt.Errorf("declaring database instance: %w", err)
	}

	db.Address = db.Instance.Attr("Endpoint.Address")
	db.Port = db.Instance.Attr("Endpoint.Port")
	return db, nil
}

func parameters(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
