package settlement

import (
	"context"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	StatusCode() int
	GetResponseField(field string) (any, error)
	Remember(name, value string)
	Expand(s string) string
}

// RegisterSteps registers escrow lifecycle steps. The id of the last opened
// escrow is remembered as {settlement}.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &settlementSteps{tc: tc}

	ctx.Step(`^I open an escrow for asset "([^"]*)" with seller "([^"]*)" paying "([^"]*)" due in (-?\d+) hours$`, steps.open)
	ctx.Step(`^I confirm delivery with proof "([^"]*)"$`, steps.confirm)
	ctx.Step(`^I settle the escrow$`, steps.settle)
	ctx.Step(`^I dispute the escrow$`, steps.dispute)
}

type settlementSteps struct {
	tc TestContext
}

func (s *settlementSteps) open(_ context.Context, asset, seller, amount string, hours int) error {
	err := s.tc.POST("/v1/settlements", map[string]any{
		"asset_id":          s.tc.Expand(asset),
		"seller":            s.tc.Expand(seller),
		"delivery_deadline": time.Now().Add(time.Duration(hours) * time.Hour).UTC(),
		"tracking_hash":     "trk-e2e",
		"paid_amount":       amount,
	})
	if err != nil || s.tc.StatusCode() != 201 {
		return err
	}
	settlementID, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Remember("settlement", settlementID.(string))
	return nil
}

func (s *settlementSteps) confirm(_ context.Context, proof string) error {
	return s.tc.POST("/v1/settlements/{settlement}/confirmations", map[string]any{"proof_hash": proof})
}

func (s *settlementSteps) settle(context.Context) error {
	return s.tc.POST("/v1/settlements/{settlement}/settle", nil)
}

func (s *settlementSteps) dispute(context.Context) error {
	return s.tc.POST("/v1/settlements/{settlement}/dispute", nil)
}
