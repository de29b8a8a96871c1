package version

import "testing"

func TestInfoString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		info     Info
		expected string
	}{
		{Info{Version: "v0.3.0"}, "v0.3.0"},
		{Info{Version: "v0.3.0", Commit: "0123456789abcdef"}, "v0.3.0 (0123456789ab)"},
		{Info{Version: "v0.3.0", Commit: "abc", Modified: true}, "v0.3.0 (abc-dirty)"},
	}
	for _, tc := range tests {
		if got := tc.info.String(); got != tc.expected {
			t.Errorf("%+v: expected %q, got %q", tc.info, tc.expected, got)
		}
	}
}

func TestResolveAlwaysHasVersion(t *testing.T) {
	t.Parallel()
	info := Resolve()
	if info.Version == "" {
		t.Fatal("expected a non-empty version")
	}
	if info.GoVersion == "" {
		t.Fatal("expected the Go version to be set")
	}
}
