package csv

import (
	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterEncoder(&registry.ConnectorInfo{
		Name:         Name,
		Description:  "RFC 4180 delimited text, one table per group, header from the first record",
		Capabilities: []string{"header_policy_pad", "header_policy_reject"},
	}, func(opts registry.EncoderOptions) (core.Encoder, error) {
		policy, err := ParsePolicy(opts.HeaderPolicy)
		if err != nil {
			return nil, err
		}
		return NewEncoder(policy), nil
	})
}
