package discovery

import "testing"

func TestParseIPRangeFourAddresses(t *testing.T) {
	ips, err := ParseIPRange("10.0.0.1-10.0.0.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}
	if len(ips) != len(want) {
		t.Fatalf("expected %d ips, got %d (%v)", len(want), len(ips), ips)
	}
	for i, w := range want {
		if ips[i] != w {
			t.Errorf("ips[%d] = %q, want %q", i, ips[i], w)
		}
	}
}

func TestParseIPRangeSingleAddress(t *testing.T) {
	ips, err := ParseIPRange("10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ips) != 1 || ips[0] != "10.0.0.1" {
		t.Fatalf("expected single address, got %v", ips)
	}
}

func TestParseIPRangeRejectsMalformed(t *testing.T) {
	cases := []string{"", "not-an-ip", "10.0.0.4-10.0.0.1", "10.0.0.1-bogus"}
	for _, c := range cases {
		if _, err := ParseIPRange(c); err == nil {
			t.Errorf("expected error for input %q", c)
		}
	}
}
