package buildinfo

import "testing"

func TestString(t *testing.T) {
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })

	Version, Commit = "v1.2.3", ""
	if got := String(); got != "v1.2.3" {
		t.Fatalf("String() = %q", got)
	}
	Commit = "0123456789abcdef"
	if got := String(); got != "v1.2.3 (0123456)" {
		t.Fatalf("String() = %q", got)
	}
}
