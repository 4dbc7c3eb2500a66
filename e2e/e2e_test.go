package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/cucumber/godog"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestFeatures(t *testing.T) {
	baseURL := os.Getenv("E2E_BASE_URL")
	if baseURL == "" {
		t.Skip("E2E_BASE_URL not set; start the server and point the suite at it")
	}
	signingKey := envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production")
	issuer := envOr("JWT_ISSUER", "trustcore")

	suite := godog.TestSuite{
		Name: "trustcore",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			tc := NewTestContext(baseURL, signingKey, issuer)
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				return ctx, tc.ActAs("")
			})
			RegisterSteps(sc, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Tags:     os.Getenv("E2E_TAGS"),
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
