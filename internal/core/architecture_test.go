package core

import (
	"testing"

	"foodlab/testutil"
)

func TestCoreStaysBelowAdapters(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.Any(testutil.AdapterImportForbidden, testutil.TransportImportForbidden),
		"the record core is shared by the CLI, HTTP layer and inbox")
}
