// Package policy implements the per-user firewall rule store and its
// matching semantics.
package policy

import (
	"time"

	"github.com/google/uuid"
)

// RuleType values.
const (
	RuleTypeDomain      = "domain"
	RuleTypeIP          = "ip"
	RuleTypeIPRange     = "ip_range"
	RuleTypeURLPattern  = "url_pattern"
	RuleTypeProtocol    = "protocol_rule"
)

// AccessType values.
const (
	AccessAllow = "allow"
	AccessDeny  = "deny"
)

// AccessRule is a single per-user policy rule.
type AccessRule struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	RuleType   string    `json:"rule_type"`
	AccessType string    `json:"access_type"`
	Pattern    string    `json:"pattern"`
	Priority   int       `json:"priority"`
	IsActive   bool      `json:"is_active"`

	// Protocol-rule-only fields.
	SrcIP    string `json:"src_ip,omitempty"`
	DstIP    string `json:"dst_ip,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	SrcPort  string `json:"src_port,omitempty"`
	DstPort  string `json:"dst_port,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// RuleBundle is the compiled, per-user projection served to headends.
// Derived; never primary state.
type RuleBundle struct {
	AllowDomains      []string `json:"allow_domains"`
	DenyDomains       []string `json:"deny_domains"`
	AllowIPs          []string `json:"allow_ips"`
	DenyIPs           []string `json:"deny_ips"`
	AllowIPRanges     []string `json:"allow_ip_ranges"`
	DenyIPRanges      []string `json:"deny_ip_ranges"`
	AllowURLPatterns  []string `json:"allow_url_patterns"`
	DenyURLPatterns   []string `json:"deny_url_patterns"`
	AllowProtocolRules []ProtocolRuleView `json:"allow_protocol_rules"`
	DenyProtocolRules  []ProtocolRuleView `json:"deny_protocol_rules"`
	CachedAt          time.Time `json:"cached_at"`
}

// ProtocolRuleView is the serialized form of a protocol_rule within a
// RuleBundle.
type ProtocolRuleView struct {
	SrcIP     string `json:"src_ip"`
	DstIP     string `json:"dst_ip"`
	Protocol  string `json:"protocol"`
	SrcPort   string `json:"src_port"`
	DstPort   string `json:"dst_port"`
	Direction string `json:"direction"`
}

// CreateRequest is the JSON body for creating a rule.
type CreateRequest struct {
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	RuleType   string    `json:"rule_type" validate:"required,oneof=domain ip ip_range url_pattern protocol_rule"`
	AccessType string    `json:"access_type" validate:"required,oneof=allow deny"`
	Pattern    string    `json:"pattern"`
	Priority   int       `json:"priority"`
	SrcIP      string    `json:"src_ip"`
	DstIP      string    `json:"dst_ip"`
	Protocol   string    `json:"protocol"`
	SrcPort    string    `json:"src_port"`
	DstPort    string    `json:"dst_port"`
	Direction  string    `json:"direction"`
}

// UpdateRequest is the JSON body for updating a rule.
type UpdateRequest struct {
	Pattern  *string `json:"pattern"`
	Priority *int    `json:"priority"`
	IsActive *bool   `json:"is_active"`
}

// AllRulesResponse is the JSON body for GET /api/v1/firewall/rules.
type AllRulesResponse struct {
	Timestamp  time.Time                    `json:"timestamp"`
	RulesCount int                          `json:"rules_count"`
	UserRules  map[string]RuleBundle        `json:"user_rules"`
}
