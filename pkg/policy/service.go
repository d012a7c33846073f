package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sasewaddle/controlplane/internal/apperr"
)

// Service wraps the rule store with the matching and export logic consumed
// by the Rule Cache and the policy HTTP handler.
type Service struct {
	store  *Store
	logger *slog.Logger
}

func NewService(store *Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// AddRule persists a new rule built from a CreateRequest. It does no
// validation of its own; the handler validates the request body.
func (s *Service) AddRule(ctx context.Context, req CreateRequest) (AccessRule, error) {
	rule := AccessRule{
		ID:         uuid.New(),
		UserID:     req.UserID,
		RuleType:   req.RuleType,
		AccessType: req.AccessType,
		Pattern:    req.Pattern,
		Priority:   req.Priority,
		IsActive:   true,
		SrcIP:      req.SrcIP,
		DstIP:      req.DstIP,
		Protocol:   req.Protocol,
		SrcPort:    req.SrcPort,
		DstPort:    req.DstPort,
		Direction:  req.Direction,
	}
	created, err := s.store.Insert(ctx, rule)
	if err != nil {
		return AccessRule{}, apperr.Store("inserting access rule", err)
	}
	return created, nil
}

// UpdateRule patches a rule's mutable fields.
func (s *Service) UpdateRule(ctx context.Context, id uuid.UUID, req UpdateRequest) (AccessRule, error) {
	updated, err := s.store.Update(ctx, id, req)
	if err != nil {
		return AccessRule{}, apperr.Store("updating access rule", err)
	}
	return updated, nil
}

// RemoveRule deletes a rule and reports the owning user_id so the caller
// can invalidate that user's cached bundle.
func (s *Service) RemoveRule(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	rule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return uuid.Nil, apperr.NotFound("access rule not found")
	}
	if err := s.store.Remove(ctx, id); err != nil {
		return uuid.Nil, apperr.Store("removing access rule", err)
	}
	return rule.UserID, nil
}

// EvaluateUser matches target against a user's active rules.
func (s *Service) EvaluateUser(ctx context.Context, userID uuid.UUID, target string) (string, error) {
	rules, err := s.store.GetUserRules(ctx, userID)
	if err != nil {
		return "", apperr.Store("loading user rules", err)
	}
	return Match(rules, target), nil
}

// ExportUser compiles a user's active rules into the categorized RuleBundle
// projection served to headends, mirroring export_user_rules from the
// original access-control implementation: each rule is filed under
// "allow_"/"deny_" plus a type-specific bucket.
func (s *Service) ExportUser(ctx context.Context, userID uuid.UUID) (RuleBundle, error) {
	rules, err := s.store.GetUserRules(ctx, userID)
	if err != nil {
		return RuleBundle{}, apperr.Store("loading user rules", err)
	}
	return compileBundle(rules), nil
}

// ExportAll compiles every user's rules, for the admin "all rules" surface.
func (s *Service) ExportAll(ctx context.Context) (AllRulesResponse, error) {
	userIDs, err := s.store.DistinctUserIDs(ctx)
	if err != nil {
		return AllRulesResponse{}, apperr.Store("loading user ids", err)
	}

	resp := AllRulesResponse{
		Timestamp: time.Now().UTC(),
		UserRules: make(map[string]RuleBundle, len(userIDs)),
	}
	count := 0
	for _, id := range userIDs {
		bundle, err := s.ExportUser(ctx, id)
		if err != nil {
			return AllRulesResponse{}, err
		}
		resp.UserRules[id.String()] = bundle
		count += len(bundle.AllowDomains) + len(bundle.DenyDomains) + len(bundle.AllowIPs) + len(bundle.DenyIPs) +
			len(bundle.AllowIPRanges) + len(bundle.DenyIPRanges) + len(bundle.AllowURLPatterns) + len(bundle.DenyURLPatterns) +
			len(bundle.AllowProtocolRules) + len(bundle.DenyProtocolRules)
	}
	resp.RulesCount = count
	return resp, nil
}

func compileBundle(rules []AccessRule) RuleBundle {
	bundle := RuleBundle{CachedAt: time.Now().UTC()}

	for _, r := range rules {
		allow := r.AccessType == AccessAllow
		switch r.RuleType {
		case RuleTypeDomain:
			if allow {
				bundle.AllowDomains = append(bundle.AllowDomains, r.Pattern)
			} else {
				bundle.DenyDomains = append(bundle.DenyDomains, r.Pattern)
			}
		case RuleTypeIP:
			if allow {
				bundle.AllowIPs = append(bundle.AllowIPs, r.Pattern)
			} else {
				bundle.DenyIPs = append(bundle.DenyIPs, r.Pattern)
			}
		case RuleTypeIPRange:
			if allow {
				bundle.AllowIPRanges = append(bundle.AllowIPRanges, r.Pattern)
			} else {
				bundle.DenyIPRanges = append(bundle.DenyIPRanges, r.Pattern)
			}
		case RuleTypeURLPattern:
			if allow {
				bundle.AllowURLPatterns = append(bundle.AllowURLPatterns, r.Pattern)
			} else {
				bundle.DenyURLPatterns = append(bundle.DenyURLPatterns, r.Pattern)
			}
		case RuleTypeProtocol:
			view := ProtocolRuleView{SrcIP: r.SrcIP, DstIP: r.DstIP, Protocol: r.Protocol, SrcPort: r.SrcPort, DstPort: r.DstPort, Direction: r.Direction}
			if allow {
				bundle.AllowProtocolRules = append(bundle.AllowProtocolRules, view)
			} else {
				bundle.DenyProtocolRules = append(bundle.DenyProtocolRules, view)
			}
		}
	}
	return bundle
}
