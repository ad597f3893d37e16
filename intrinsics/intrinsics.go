// Package intrinsics provides the CloudFormation intrinsic functions used when
// a desired-state graph is synthesized into a template.
//
//	Ref{"MyVpc"}                          → {"Ref": "MyVpc"}
//	GetAtt{"RdsInstance", "Endpoint.Address"} → {"Fn::GetAtt": ["RdsInstance", "Endpoint.Address"]}
//	Sub{"POSTGRES_HOST=${RdsInstance.Endpoint.Address}"}
//	Base64{Sub{...}}                      → {"Fn::Base64": {"Fn::Sub": ...}}
package intrinsics

import (
	"sort"

	"github.com/lex00/cloudformation-schema-go/intrinsics"
)

// Re-export core intrinsic types from shared package.
type (
	// Ref represents a CloudFormation Ref intrinsic function.
	Ref = intrinsics.Ref

	// GetAtt represents a CloudFormation Fn::GetAtt intrinsic function.
	GetAtt = intrinsics.GetAtt

	// Sub represents a CloudFormation Fn::Sub intrinsic function.
	Sub = intrinsics.Sub

	// Base64 represents a CloudFormation Fn::Base64 intrinsic function.
	Base64 = intrinsics.Base64

	// Tag represents a CloudFormation resource tag.
	Tag = intrinsics.Tag
)

// Tags returns a Name tag followed by the extra tags sorted by key. A Name key
// in extra is ignored.
func Tags(name string, extra map[string]string) []Tag {
	tags := []Tag{{Key: "Name", Value: name}}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if k != "Name" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		tags = append(tags, Tag{Key: k, Value: extra[k]})
	}
	return tags
}
