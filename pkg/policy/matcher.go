package policy

import (
	"net"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Match evaluates rules (which need not be pre-sorted) against target and
// returns the decided AccessType. An empty ruleset allows; a non-empty
// ruleset with no match denies. This asymmetry is intentional and must be
// preserved verbatim.
func Match(rules []AccessRule, target string) string {
	if len(rules) == 0 {
		return AccessAllow
	}

	ordered := make([]AccessRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	for _, rule := range ordered {
		if !rule.IsActive {
			continue
		}
		if ruleMatches(rule, target) {
			return rule.AccessType
		}
	}
	return AccessDeny
}

func ruleMatches(rule AccessRule, target string) bool {
	switch rule.RuleType {
	case RuleTypeDomain:
		return matchDomain(rule.Pattern, target)
	case RuleTypeIP:
		return matchIP(rule.Pattern, target)
	case RuleTypeIPRange:
		return matchIPRange(rule.Pattern, target)
	case RuleTypeURLPattern:
		return matchURLPattern(rule.Pattern, target)
	case RuleTypeProtocol:
		return matchProtocolRule(rule, target)
	default:
		return false
	}
}

func hostOf(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		if u, err := url.Parse(target); err == nil {
			return strings.ToLower(u.Host)
		}
	}
	return strings.ToLower(target)
}

func matchDomain(pattern, target string) bool {
	targetDomain := hostOf(target)
	pattern = strings.ToLower(pattern)

	if pattern == targetDomain {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		base := pattern[2:]
		if targetDomain == base || strings.HasSuffix(targetDomain, "."+base) {
			return true
		}
	}
	return false
}

func ipOf(target string) (net.IP, bool) {
	raw := target
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		if u, err := url.Parse(target); err == nil {
			raw = u.Hostname()
		}
	} else if idx := strings.LastIndex(target, ":"); idx >= 0 {
		raw = target[:idx]
	}
	ip := net.ParseIP(raw)
	return ip, ip != nil
}

func matchIP(pattern, target string) bool {
	targetIP, ok := ipOf(target)
	if !ok {
		return false
	}
	patternIP := net.ParseIP(pattern)
	return patternIP != nil && patternIP.Equal(targetIP)
}

func matchIPRange(pattern, target string) bool {
	targetIP, ok := ipOf(target)
	if !ok {
		return false
	}
	_, network, err := net.ParseCIDR(pattern)
	if err != nil {
		return false
	}
	return network.Contains(targetIP)
}

func matchURLPattern(pattern, target string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false
	}
	loc := re.FindStringIndex(target)
	return loc != nil && loc[0] == 0
}

// connectionTarget is the parsed form of a protocol_rule target string
// "proto:src_ip:src_port->dst_ip:dst_port[:direction]".
type connectionTarget struct {
	protocol  string
	srcIP     string
	srcPort   string
	dstIP     string
	dstPort   string
	direction string
}

func parseConnectionTarget(target string) (connectionTarget, bool) {
	idx := strings.Index(target, "->")
	if idx < 0 {
		return connectionTarget{}, false
	}
	srcPart, dstPart := target[:idx], target[idx+2:]

	srcComponents := strings.Split(srcPart, ":")
	if len(srcComponents) < 2 {
		return connectionTarget{}, false
	}
	ct := connectionTarget{protocol: srcComponents[0], srcIP: "*", srcPort: "*", dstPort: "*", direction: "outbound"}
	if len(srcComponents) > 1 {
		ct.srcIP = srcComponents[1]
	}
	if len(srcComponents) > 2 {
		ct.srcPort = srcComponents[2]
	}

	dstComponents := strings.Split(dstPart, ":")
	if len(dstComponents) > 0 {
		ct.dstIP = dstComponents[0]
	}
	if len(dstComponents) > 1 {
		ct.dstPort = dstComponents[1]
	}
	if len(dstComponents) > 2 {
		ct.direction = dstComponents[2]
	}
	return ct, true
}

func matchProtocolRule(rule AccessRule, target string) bool {
	ct, ok := parseConnectionTarget(target)
	if !ok {
		return false
	}

	if rule.Protocol != "" && !strings.EqualFold(rule.Protocol, ct.protocol) {
		return false
	}
	if rule.SrcIP != "" && !matchIPOrRange(rule.SrcIP, ct.srcIP) {
		return false
	}
	if rule.DstIP != "" && !matchIPOrRange(rule.DstIP, ct.dstIP) {
		return false
	}
	if rule.SrcPort != "" && !matchPort(rule.SrcPort, ct.srcPort) {
		return false
	}
	if rule.DstPort != "" && !matchPort(rule.DstPort, ct.dstPort) {
		return false
	}
	if rule.Direction != "" && rule.Direction != "both" && rule.Direction != ct.direction {
		return false
	}
	return true
}

func matchIPOrRange(ruleIP, targetIP string) bool {
	if ruleIP == "*" || targetIP == "*" {
		return true
	}
	if strings.Contains(ruleIP, "/") {
		_, network, err := net.ParseCIDR(ruleIP)
		if err != nil {
			return false
		}
		ip := net.ParseIP(targetIP)
		return ip != nil && network.Contains(ip)
	}
	a, b := net.ParseIP(ruleIP), net.ParseIP(targetIP)
	return a != nil && b != nil && a.Equal(b)
}

func matchPort(rulePort, targetPort string) bool {
	if rulePort == "*" || targetPort == "*" {
		return true
	}
	target, err := strconv.Atoi(targetPort)
	if err != nil {
		return false
	}

	switch {
	case strings.Contains(rulePort, "-"):
		bounds := strings.SplitN(rulePort, "-", 2)
		if len(bounds) != 2 {
			return false
		}
		start, err1 := strconv.Atoi(strings.TrimSpace(bounds[0]))
		end, err2 := strconv.Atoi(strings.TrimSpace(bounds[1]))
		return err1 == nil && err2 == nil && start <= target && target <= end
	case strings.Contains(rulePort, ","):
		for _, p := range strings.Split(rulePort, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err == nil && n == target {
				return true
			}
		}
		return false
	default:
		n, err := strconv.Atoi(rulePort)
		return err == nil && n == target
	}
}
