package archive

import (
	"testing"

	"roadcore/testutil"
)

func TestArchiveStaysBelowEngine(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ImportsUnder("internal/core", "internal/session", "cmd"), "archives move snapshots, not sessions")
}
