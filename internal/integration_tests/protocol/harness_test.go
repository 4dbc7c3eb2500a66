package protocol

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	attestorHandler "trustcore/internal/attestor/handler"
	attestorMetrics "trustcore/internal/attestor/metrics"
	attestorService "trustcore/internal/attestor/service"
	attestorStore "trustcore/internal/attestor/store"
	"trustcore/internal/authz"
	"trustcore/internal/fees"
	feesHandler "trustcore/internal/fees/handler"
	ledgerHandler "trustcore/internal/ledger/handler"
	ledgerService "trustcore/internal/ledger/service"
	ledgerStore "trustcore/internal/ledger/store"
	"trustcore/internal/platform/metrics"
	"trustcore/internal/policy"
	policyHandler "trustcore/internal/policy/handler"
	"trustcore/internal/protection"
	protectionHandler "trustcore/internal/protection/handler"
	settlementHandler "trustcore/internal/settlement/handler"
	settlementService "trustcore/internal/settlement/service"
	settlementStore "trustcore/internal/settlement/store"
	"trustcore/internal/tokenization"
	tokenizationHandler "trustcore/internal/tokenization/handler"
	httptransport "trustcore/internal/transport/http"
	verificationHandler "trustcore/internal/verification/handler"
	verificationService "trustcore/internal/verification/service"
	verificationStore "trustcore/internal/verification/store"

	id "trustcore/pkg/domain"
	auditpublisher "trustcore/pkg/platform/audit/publisher"
	auditmemory "trustcore/pkg/platform/audit/store/memory"
	txcontext "trustcore/pkg/platform/tx"
	"trustcore/pkg/testutil"
)

const signingKey = "integration-signing-key"

// harness runs the full HTTP surface over in-memory stores.
type harness struct {
	t       *testing.T
	router  http.Handler
	tokens  *authz.TokenService
	events  *auditmemory.InMemoryStore
	bearers map[id.AccountID]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	eventStore := auditmemory.NewInMemoryStore()
	events := auditpublisher.NewPublisher(eventStore, auditpublisher.WithLogger(logger))
	authorizer := authz.Any{authz.NewRoleTable(), authz.ContextGrants{}}

	units := txcontext.NewMemory()

	var attestors *attestorService.Service
	distributor := fees.NewService(fees.NewInMemoryStore(),
		fees.ValidatorSetFunc(func(ctx context.Context) ([]id.AccountID, error) {
			return attestors.ActiveIDs(ctx)
		}),
		fees.WithLogger(logger),
		fees.WithAuditPublisher(events),
	)
	attestors = attestorService.New(attestorStore.NewInMemoryStore(), authorizer, decimal.NewFromInt(1000),
		attestorService.WithLogger(logger),
		attestorService.WithMetrics(attestorMetrics.New(reg)),
		attestorService.WithAuditPublisher(events),
		attestorService.WithInsurancePool(distributor),
		attestorService.WithTransactor(units),
	)
	policies := policy.NewService(policy.NewInMemoryStore(), authorizer, policy.WithAuditPublisher(events))
	verifications := verificationService.New(verificationStore.NewInMemoryStore(), policies, attestors, authorizer,
		verificationService.WithLogger(logger),
		verificationService.WithAuditPublisher(events),
	)
	buffer := protection.NewService(protection.NewInMemoryStore(), authorizer, protection.WithAuditPublisher(events))
	gate := tokenization.NewService(tokenization.NewInMemoryStore(), verifications, authorizer, 100,
		tokenization.WithLogger(logger),
		tokenization.WithAuditPublisher(events),
		tokenization.WithFeeCollector(distributor),
		tokenization.WithProtection(buffer),
		tokenization.WithTransactor(units),
	)
	settlements := settlementService.New(settlementStore.NewInMemoryStore(), authorizer, 100,
		settlementService.WithLogger(logger),
		settlementService.WithAuditPublisher(events),
		settlementService.WithFeeCollector(distributor),
		settlementService.WithTransactor(units),
	)
	ledger := ledgerService.New(ledgerStore.NewInMemoryStore(decimal.NewFromInt(1_000_000_000)), authorizer,
		ledgerService.WithLogger(logger),
		ledgerService.WithAuditPublisher(events),
	)

	tokens := authz.NewTokenService(signingKey, "trustcore-test")
	router := httptransport.NewRouter(httptransport.Config{
		Logger:   logger,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
		Tokens:   tokens,
	},
		ledgerHandler.New(ledger, logger),
		attestorHandler.New(attestors, logger),
		policyHandler.New(policies, logger),
		verificationHandler.New(verifications, logger),
		tokenizationHandler.New(gate, logger),
		settlementHandler.New(settlements, logger),
		feesHandler.New(distributor, logger),
		protectionHandler.New(buffer, logger),
	)
	return &harness{
		t:       t,
		router:  router,
		tokens:  tokens,
		events:  eventStore,
		bearers: map[id.AccountID]string{},
	}
}

// as issues (once) a token for account with caps.
func (h *harness) as(account id.AccountID, caps ...authz.Capability) id.AccountID {
	h.t.Helper()
	if _, ok := h.bearers[account]; !ok {
		token, err := h.tokens.Issue(account, caps, time.Hour)
		require.NoError(h.t, err)
		h.bearers[account] = token
	}
	return account
}

func (h *harness) do(caller id.AccountID, method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	req := testutil.WithBearer(testutil.NewJSONRequest(h.t, method, path, body), h.bearers[caller])
	return testutil.DoRequest(h.router, req)
}
