package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Grant(account string, caps []string) error
	ActAs(account string) error
	GET(path string) error
	StatusCode() int
	Body() string
	GetResponseField(field string) (any, error)
	Remember(name, value string)
	Expand(s string) string
}

// RegisterSteps registers background, request and assertion steps shared by
// every feature.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^"([^"]*)" holds capabilities "([^"]*)"$`, steps.holdsCapabilities)
	ctx.Step(`^I act as "([^"]*)"$`, steps.actAs)
	ctx.Step(`^I act anonymously$`, steps.actAnonymously)
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^I remember the response field "([^"]*)" as "([^"]*)"$`, steps.rememberField)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) holdsCapabilities(_ context.Context, account, caps string) error {
	var list []string
	for _, c := range strings.Split(caps, ",") {
		if c = strings.TrimSpace(c); c != "" {
			list = append(list, c)
		}
	}
	return s.tc.Grant(s.tc.Expand(account), list)
}

func (s *commonSteps) actAs(_ context.Context, account string) error {
	return s.tc.ActAs(s.tc.Expand(account))
}

func (s *commonSteps) actAnonymously(context.Context) error {
	return s.tc.ActAs("")
}

func (s *commonSteps) get(_ context.Context, path string) error {
	return s.tc.GET(path)
}

func (s *commonSteps) statusShouldBe(_ context.Context, want int) error {
	if got := s.tc.StatusCode(); got != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, got, s.tc.Body())
	}
	return nil
}

func (s *commonSteps) fieldShouldBe(_ context.Context, field, want string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	want = s.tc.Expand(want)
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("field %q: expected %q, got %q", field, want, got)
	}
	return nil
}

func (s *commonSteps) rememberField(_ context.Context, field, name string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	s.tc.Remember(name, fmt.Sprint(v))
	return nil
}
