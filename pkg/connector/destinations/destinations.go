// Package destinations registers every encoder and output container. Import
// it for its side effect.
package destinations

import (
	_ "github.com/ajitpratap0/healthetl/pkg/connector/destinations/archive"
	_ "github.com/ajitpratap0/healthetl/pkg/connector/destinations/csv"
)
