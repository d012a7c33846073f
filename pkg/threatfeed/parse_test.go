package threatfeed

import "testing"

func TestParseDomainListSkipsCommentsAndStripsWrapper(t *testing.T) {
	content := "# comment\n! another comment\n\n||malicious.example.com^\ngood-enough.test\nab\n"
	got := parseDomainList(content)

	want := []string{"malicious.example.com", "good-enough.test"}
	if len(got) != len(want) {
		t.Fatalf("parseDomainList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseIPListAcceptsCIDRAndLeavesBareIPsUnmasked(t *testing.T) {
	content := "; header\n1.2.3.0/24 ; SBL123\n10.0.0.5\nnot-an-ip\n"
	got := parseIPList(content)

	if len(got) != 2 {
		t.Fatalf("parseIPList = %v, want 2 entries", got)
	}
	if got[0] != "1.2.3.0/24" {
		t.Errorf("entry 0 = %q, want 1.2.3.0/24", got[0])
	}
	if got[1] != "10.0.0.5" {
		t.Errorf("entry 1 = %q, want 10.0.0.5", got[1])
	}
}

func TestDetectType(t *testing.T) {
	if detectType("10.0.0.1") != IndicatorIP {
		t.Error("expected 10.0.0.1 to detect as ip")
	}
	if detectType("example.com") != IndicatorDomain {
		t.Error("expected example.com to detect as domain")
	}
}
