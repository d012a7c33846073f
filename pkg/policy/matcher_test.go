package policy

import (
	"testing"

	"github.com/google/uuid"
)

func rule(ruleType, accessType, pattern string, priority int) AccessRule {
	return AccessRule{ID: uuid.New(), UserID: uuid.New(), RuleType: ruleType, AccessType: accessType, Pattern: pattern, Priority: priority, IsActive: true}
}

func TestMatchEmptyRulesetAllows(t *testing.T) {
	if got := Match(nil, "anything.example.com"); got != AccessAllow {
		t.Errorf("Match(nil) = %q, want %q", got, AccessAllow)
	}
}

func TestMatchNonEmptyNoMatchDenies(t *testing.T) {
	rules := []AccessRule{rule(RuleTypeDomain, AccessAllow, "mail.example.com", 10)}
	if got := Match(rules, "other.com"); got != AccessDeny {
		t.Errorf("Match(no-match) = %q, want %q", got, AccessDeny)
	}
}

// TestMatchPrecedenceByPriority exercises a worked example: a
// priority-10 deny on *.example.com plus a priority-5 allow on
// mail.example.com. The lower-priority allow wins for mail.example.com, the
// wildcard deny wins for everything else under example.com, and an
// unrelated domain falls through to deny.
func TestMatchPrecedenceByPriority(t *testing.T) {
	rules := []AccessRule{
		rule(RuleTypeDomain, AccessDeny, "*.example.com", 10),
		rule(RuleTypeDomain, AccessAllow, "mail.example.com", 5),
	}

	cases := map[string]string{
		"mail.example.com": AccessAllow,
		"ads.example.com":  AccessDeny,
		"other.com":         AccessDeny,
	}
	for target, want := range cases {
		if got := Match(rules, target); got != want {
			t.Errorf("Match(%q) = %q, want %q", target, got, want)
		}
	}
}

func TestMatchSkipsInactiveRules(t *testing.T) {
	blocked := rule(RuleTypeDomain, AccessDeny, "example.com", 1)
	blocked.IsActive = false
	allowed := rule(RuleTypeDomain, AccessAllow, "example.com", 2)

	if got := Match([]AccessRule{blocked, allowed}, "example.com"); got != AccessAllow {
		t.Errorf("Match skipping inactive rule = %q, want %q", got, AccessAllow)
	}
}

func TestMatchDomainWildcardRequiresDotBoundary(t *testing.T) {
	if !matchDomain("*.example.com", "https://api.example.com/v1") {
		t.Error("expected api.example.com to match *.example.com")
	}
	if matchDomain("*.example.com", "notexample.com") {
		t.Error("notexample.com must not match *.example.com (no dot boundary)")
	}
	if !matchDomain("*.example.com", "example.com") {
		t.Error("expected bare example.com to match *.example.com per base-domain rule")
	}
}

func TestMatchIPRange(t *testing.T) {
	r := rule(RuleTypeIPRange, AccessDeny, "10.0.0.0/24", 1)
	if !ruleMatches(r, "10.0.0.55:443") {
		t.Error("expected 10.0.0.55 to match 10.0.0.0/24")
	}
	if ruleMatches(r, "10.0.1.55") {
		t.Error("expected 10.0.1.55 to not match 10.0.0.0/24")
	}
}

func TestMatchURLPatternAnchoredLikeReMatch(t *testing.T) {
	r := rule(RuleTypeURLPattern, AccessDeny, `https://.*\.evil\.test/.*`, 1)
	if !ruleMatches(r, "https://a.evil.test/path") {
		t.Error("expected anchored pattern to match from position 0")
	}
	if ruleMatches(r, "http://safe.test/https://a.evil.test/path") {
		t.Error("pattern must anchor at position 0, not search anywhere in the string")
	}
}

func TestMatchProtocolRule(t *testing.T) {
	r := AccessRule{
		ID: uuid.New(), UserID: uuid.New(), RuleType: RuleTypeProtocol, AccessType: AccessDeny,
		Priority: 1, IsActive: true,
		Protocol: "tcp", SrcIP: "*", DstIP: "10.0.0.0/24", DstPort: "443,8443", Direction: "outbound",
	}
	target := "tcp:192.168.1.5:51000->10.0.0.9:443:outbound"
	if !ruleMatches(r, target) {
		t.Errorf("expected protocol rule to match %q", target)
	}
	if ruleMatches(r, "tcp:192.168.1.5:51000->10.0.0.9:80:outbound") {
		t.Error("expected port 80 to not match 443,8443")
	}
	if ruleMatches(r, "udp:192.168.1.5:51000->10.0.0.9:443:outbound") {
		t.Error("expected udp to not match tcp-only rule")
	}
}

func TestMatchPortRanges(t *testing.T) {
	if !matchPort("8000-8100", "8050") {
		t.Error("expected 8050 in range 8000-8100")
	}
	if matchPort("8000-8100", "9000") {
		t.Error("expected 9000 outside range 8000-8100")
	}
	if !matchPort("80,443,8443", "443") {
		t.Error("expected 443 in list 80,443,8443")
	}
	if !matchPort("*", "51000") {
		t.Error("expected wildcard port to match anything")
	}
}
