package config

import "testing"

func TestAcceptedLicensesSplitsAndTrims(t *testing.T) {
	c := &Config{Accept: "MIT, Apache-2.0 ,  GPL-3.0"}
	got := c.AcceptedLicenses()
	for _, want := range []string{"MIT", "Apache-2.0", "GPL-3.0"} {
		if !got[want] {
			t.Errorf("expected %q in accepted set, got %v", want, got)
		}
	}
	if len(got) != 3 {
		t.Errorf("expected 3 entries, got %d", len(got))
	}
}

func TestAcceptedLicensesAllSentinel(t *testing.T) {
	c := &Config{Accept: "all"}
	got := c.AcceptedLicenses()
	if !got["all"] {
		t.Error("expected \"all\" sentinel to be present")
	}
}
