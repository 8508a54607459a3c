package modules

import (
	"testing"

	"foodlab/testutil"
)

func TestModulesAreTransportFree(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.TransportImportForbidden, "modules are driven by HTTP and the CLI alike")
}
