package verification

import (
	"context"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	PUT(path string, body any) error
	Expand(s string) string
}

// RegisterSteps registers attestor, policy, verification and tokenization
// steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &verificationSteps{tc: tc}

	ctx.Step(`^I register attestor "([^"]*)" with stake "([^"]*)" paying "([^"]*)"$`, steps.registerAttestor)
	ctx.Step(`^I set the policy for "([^"]*)" to min score (\d+) with (\d+) attestors? and a TTL of (\d+) days$`, steps.setPolicy)
	ctx.Step(`^I submit a verification for asset "([^"]*)" of type "([^"]*)" owned by "([^"]*)" scored (\d+) signed by "([^"]*)"$`, steps.submit)
	ctx.Step(`^I revoke the verification of asset "([^"]*)" because "([^"]*)"$`, steps.revoke)
	ctx.Step(`^I tokenize asset "([^"]*)" of type "([^"]*)" valued "([^"]*)" paying a fee of "([^"]*)"$`, steps.tokenize)
}

type verificationSteps struct {
	tc TestContext
}

func (s *verificationSteps) registerAttestor(_ context.Context, attestor, stake, paid string) error {
	return s.tc.POST("/v1/attestors", map[string]any{
		"id":                s.tc.Expand(attestor),
		"organization_name": "E2E Surveyors",
		"country":           "NL",
		"requested_stake":   stake,
		"paid_value":        paid,
	})
}

func (s *verificationSteps) setPolicy(_ context.Context, assetType string, minScore, attestors, ttlDays int) error {
	return s.tc.PUT("/v1/policies/"+s.tc.Expand(assetType), map[string]any{
		"min_score_bp":       minScore,
		"required_attestors": attestors,
		"ttl_seconds":        int64((time.Duration(ttlDays) * 24 * time.Hour).Seconds()),
	})
}

func (s *verificationSteps) submit(_ context.Context, asset, assetType, owner string, score int, attestors string) error {
	var ids, sigs []string
	for _, a := range strings.Split(attestors, ",") {
		a = s.tc.Expand(strings.TrimSpace(a))
		ids = append(ids, a)
		sigs = append(sigs, "sig-"+a)
	}
	return s.tc.POST("/v1/verifications", map[string]any{
		"asset_id":      s.tc.Expand(asset),
		"asset_type":    s.tc.Expand(assetType),
		"owner":         s.tc.Expand(owner),
		"score_bp":      score,
		"evidence_hash": "sha256:e2e",
		"signatures":    sigs,
		"attestor_ids":  ids,
	})
}

func (s *verificationSteps) revoke(_ context.Context, asset, reason string) error {
	return s.tc.POST("/v1/verifications/"+s.tc.Expand(asset)+"/revoke", map[string]any{"reason": reason})
}

func (s *verificationSteps) tokenize(_ context.Context, asset, assetType, value, fee string) error {
	return s.tc.POST("/v1/assets", map[string]any{
		"asset_id":     s.tc.Expand(asset),
		"asset_type":   s.tc.Expand(assetType),
		"name":         "E2E asset",
		"location":     "Rotterdam",
		"total_value":  value,
		"token_supply": "1000",
		"paid_fee":     fee,
	})
}
