package session

import (
	"testing"

	"roadcore/testutil"
)

func TestSessionLoaderDoesNotDependOnEngine(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ImportsUnder("internal/core", "internal/archive", "internal/blob", "cmd"), "session files decode into the domain model only")
}
