package policy

import (
	"testing"

	"github.com/google/uuid"
)

// TestCompileBundleFilesRulesByTypeAndAccess mirrors export_user_rules from
// the original access-control implementation: every rule is filed under an
// "allow_"/"deny_" bucket keyed by its rule_type.
func TestCompileBundleFilesRulesByTypeAndAccess(t *testing.T) {
	userID := uuid.New()
	rules := []AccessRule{
		{ID: uuid.New(), UserID: userID, RuleType: RuleTypeDomain, AccessType: AccessAllow, Pattern: "mail.example.com", IsActive: true},
		{ID: uuid.New(), UserID: userID, RuleType: RuleTypeDomain, AccessType: AccessDeny, Pattern: "*.example.com", IsActive: true},
		{ID: uuid.New(), UserID: userID, RuleType: RuleTypeIP, AccessType: AccessAllow, Pattern: "10.0.0.5", IsActive: true},
		{ID: uuid.New(), UserID: userID, RuleType: RuleTypeIPRange, AccessType: AccessDeny, Pattern: "172.16.0.0/12", IsActive: true},
		{ID: uuid.New(), UserID: userID, RuleType: RuleTypeURLPattern, AccessType: AccessDeny, Pattern: `.*\.ads\..*`, IsActive: true},
		{
			ID: uuid.New(), UserID: userID, RuleType: RuleTypeProtocol, AccessType: AccessAllow, IsActive: true,
			Protocol: "tcp", SrcIP: "*", DstIP: "10.0.0.0/24", DstPort: "443", Direction: "outbound",
		},
	}

	bundle := compileBundle(rules)

	if len(bundle.AllowDomains) != 1 || bundle.AllowDomains[0] != "mail.example.com" {
		t.Errorf("AllowDomains = %v, want [mail.example.com]", bundle.AllowDomains)
	}
	if len(bundle.DenyDomains) != 1 || bundle.DenyDomains[0] != "*.example.com" {
		t.Errorf("DenyDomains = %v, want [*.example.com]", bundle.DenyDomains)
	}
	if len(bundle.AllowIPs) != 1 {
		t.Errorf("AllowIPs = %v, want 1 entry", bundle.AllowIPs)
	}
	if len(bundle.DenyIPRanges) != 1 {
		t.Errorf("DenyIPRanges = %v, want 1 entry", bundle.DenyIPRanges)
	}
	if len(bundle.DenyURLPatterns) != 1 {
		t.Errorf("DenyURLPatterns = %v, want 1 entry", bundle.DenyURLPatterns)
	}
	if len(bundle.AllowProtocolRules) != 1 || bundle.AllowProtocolRules[0].DstPort != "443" {
		t.Errorf("AllowProtocolRules = %v, want 1 entry with dst_port 443", bundle.AllowProtocolRules)
	}
	if bundle.CachedAt.IsZero() {
		t.Error("expected CachedAt to be stamped")
	}
}

func TestCompileBundleEmptyRulesYieldsEmptyBundle(t *testing.T) {
	bundle := compileBundle(nil)
	if len(bundle.AllowDomains) != 0 || len(bundle.DenyDomains) != 0 || len(bundle.AllowProtocolRules) != 0 {
		t.Error("expected an empty bundle for no rules")
	}
}
