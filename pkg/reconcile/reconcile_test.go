package reconcile

import "testing"

func TestCoerceVendorModel(t *testing.T) {
	cases := []struct {
		description string
		wantVendor  string
	}{
		{"Cisco IOS Software, Catalyst 2960 Software", "Cisco"},
		{"Juniper Networks, Inc. ex2200 Ethernet Switch", "Juniper"},
		{"HP J9625A 2620-24 Switch", "HP"},
		{"Dell Networking N1524", "Dell"},
		{"some unrecognized widget", ""},
		{"", ""},
	}
	for _, c := range cases {
		vendor, model := CoerceVendorModel(c.description)
		if vendor != c.wantVendor {
			t.Errorf("CoerceVendorModel(%q) vendor = %q, want %q", c.description, vendor, c.wantVendor)
		}
		if c.description != "" && model == "" {
			t.Errorf("CoerceVendorModel(%q) returned empty model", c.description)
		}
	}
}

func TestParseUptime(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"10d 4h 3m 2s", 10*86400 + 4*3600 + 3*60 + 2},
		{"1h", 3600},
		{"5m", 300},
		{"45s", 45},
	}
	for _, c := range cases {
		got, err := ParseUptime(c.in)
		if err != nil {
			t.Fatalf("ParseUptime(%q) unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseUptime(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseUptimeRejectsMalformed(t *testing.T) {
	if _, err := ParseUptime("lots of uptime"); err == nil {
		t.Fatal("expected error for malformed uptime string")
	}
}
