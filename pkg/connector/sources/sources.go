// Package sources registers every extractor. Import it for its side effect.
package sources

import (
	// Apple Health export.xml
	_ "github.com/ajitpratap0/healthetl/pkg/connector/sources/healthxml"
)
