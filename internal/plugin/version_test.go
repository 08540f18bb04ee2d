package plugin

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1.2.3", "1.2.3", false},
		{"v1.2.3", "1.2.3", false},
		{"1", "1.0.0", false},
		{"1.2", "1.2.0", false},
		{"2.0.0-beta.1", "2.0.0-beta.1", false},
		{"1.4-rc1", "1.4.0-rc1", false},
		{"", "", true},
		{"1.2.3.4", "", true},
		{"one", "", true},
		{"1..2", "", true},
		{"-1.0", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && v.String() != tt.want {
				t.Errorf("ParseVersion(%q) = %s, want %s", tt.in, v, tt.want)
			}
		})
	}
}

func TestRequirementSatisfiedBy(t *testing.T) {
	tests := []struct {
		req     string
		version string
		want    bool
	}{
		{"", "0.1.0", true},
		{"*", "9.9.9", true},
		{"1.2.0", "1.2.0", true},
		{"=1.2", "1.2.1", false},
		{"!=1.2.0", "1.2.1", true},
		{">=1.0.0", "1.0.0", true},
		{">=1.0.0", "0.9.9", false},
		{">1.0", "1.0.1", true},
		{"<2", "1.99.0", true},
		{"<2", "2.0.0-beta", true},
		{"<=1.5.0", "1.5.0", true},
		{"^1.2.0", "1.9.0", true},
		{"^1.2.0", "2.0.0", false},
		{"^1.2.0", "1.1.9", false},
		{"~1.2.0", "1.2.9", true},
		{"~1.2.0", "1.3.0", false},
		{">=1.2, <2", "1.5.0", true},
		{">=1.2, <2", "2.1.0", false},
		{">=1.0.0", "not-a-version", false},
	}
	for _, tt := range tests {
		t.Run(tt.req+" "+tt.version, func(t *testing.T) {
			req, err := ParseRequirement(tt.req)
			if err != nil {
				t.Fatalf("ParseRequirement(%q) error = %v", tt.req, err)
			}
			if got := req.SatisfiedBy(tt.version); got != tt.want {
				t.Errorf("%q.SatisfiedBy(%q) = %v, want %v", tt.req, tt.version, got, tt.want)
			}
		})
	}
}

func TestParseRequirementInvalid(t *testing.T) {
	for _, s := range []string{">=", ">=1.0,", "^abc", ">= 1.0, , <2"} {
		if _, err := ParseRequirement(s); err == nil {
			t.Errorf("ParseRequirement(%q) succeeded, want error", s)
		}
	}
}
