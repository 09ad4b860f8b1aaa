package tenantctl_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/tenantctl"
)

func newTestConfig(endpoint string) tenantctl.Config {
	return tenantctl.Config{
		DefaultEndpoint: endpoint,
		Projects: map[string]tenantctl.ProjectConfig{
			"P_A": {APIKey: "key-a"},
			"P_B": {APIKey: "key-b"},
		},
		Management: &tenantctl.ManagementConfig{APIKey: "mgmt-key"},
		ConfirmationSecret: []byte("test-only-confirmation-secret"),
		AdapterMaxRetries:  2,
	}
}

func mustNewService(t *testing.T, cfg tenantctl.Config) *tenantctl.Service {
	t.Helper()
	svc, err := tenantctl.NewService(cfg, nil)
	require.NoError(t, err)
	return svc
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return c
}

func dbCreateRequest(targets []string) tenantctl.ChangeRequest {
	inputs := make([]tenantctl.TargetInput, len(targets))
	for i, id := range targets {
		inputs[i] = tenantctl.TargetInput{ProjectID: id}
	}
	return tenantctl.ChangeRequest{
		Actor:   "actor1",
		Targets: inputs,
		Operations: []tenantctl.Operation{
			{OperationID: "op1", Domain: tenantctl.DomainDatabase, Action: "database.create", Params: map[string]any{"database_id": "db-main", "name": "Main DB"}},
		},
	}
}

func TestScenario_TwoTargetDBCreateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"$id":"db-main"}`))
	}))
	defer srv.Close()

	svc := mustNewService(t, newTestConfig(srv.URL))

	preview, errOut := svc.ChangesPreview(tenantctl.PreviewRequest{ChangeRequest: dbCreateRequest([]string{"P_A", "P_B"})})
	require.Nil(t, errOut)
	require.Equal(t, 0, preview.DestructiveCount)
	require.Equal(t, tenantctl.RiskLow, preview.RiskLevel)
	require.Equal(t, []string{"databases.write"}, preview.RequiredScopes)

	apply, errOut := svc.ChangesApply(ctx(t), tenantctl.ApplyRequest{
		ChangeRequest: dbCreateRequest([]string{"P_A", "P_B"}),
		PlanID:        preview.PlanID,
		PlanHash:      preview.PlanHash,
	})
	require.Nil(t, errOut)
	require.Equal(t, "SUCCESS", apply.Status)
	require.Len(t, apply.TargetResults, 2)
	require.Equal(t, "P_A", apply.TargetResults[0].ProjectID)
	require.Equal(t, "P_B", apply.TargetResults[1].ProjectID)
}

func TestScenario_PartialSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Appwrite-Project") == "P_B" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"boom"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"$id":"db-main"}`))
	}))
	defer srv.Close()

	svc := mustNewService(t, newTestConfig(srv.URL))

	preview, errOut := svc.ChangesPreview(tenantctl.PreviewRequest{ChangeRequest: dbCreateRequest([]string{"P_A", "P_B"})})
	require.Nil(t, errOut)

	apply, errOut := svc.ChangesApply(ctx(t), tenantctl.ApplyRequest{
		ChangeRequest: dbCreateRequest([]string{"P_A", "P_B"}),
		PlanID:        preview.PlanID,
		PlanHash:      preview.PlanHash,
	})
	require.Nil(t, errOut)
	require.Equal(t, "PARTIAL_SUCCESS", apply.Status)
	require.Equal(t, "SUCCESS", apply.TargetResults[0].Status)
	require.Equal(t, "FAILED", apply.TargetResults[1].Status)

	var sawFailed bool
	for _, rec := range svc.AuditRecords() {
		if string(rec.Outcome) == "failed" && rec.TargetProject == "P_B" {
			sawFailed = true
		}
	}
	require.True(t, sawFailed)
}

func TestScenario_CriticalDestructiveRequiresConfirmation(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	svc := mustNewService(t, newTestConfig(srv.URL))

	req := tenantctl.ChangeRequest{
		Actor:   "actor1",
		Targets: []tenantctl.TargetInput{{ProjectID: "P_A"}},
		Operations: []tenantctl.Operation{
			{OperationID: "op1", Domain: tenantctl.DomainProject, Action: "project.delete", Params: map[string]any{"project_id": "P_A"}},
		},
	}

	preview, errOut := svc.ChangesPreview(tenantctl.PreviewRequest{ChangeRequest: req})
	require.Nil(t, errOut)
	require.Equal(t, tenantctl.RiskHigh, preview.RiskLevel)

	_, errOut = svc.ChangesApply(ctx(t), tenantctl.ApplyRequest{ChangeRequest: req, PlanID: preview.PlanID, PlanHash: preview.PlanHash})
	require.NotNil(t, errOut)
	require.Equal(t, tenantctl.ErrConfirmRequired, errOut.Code)
	require.EqualValues(t, 0, calls)

	issued, errOut := svc.ConfirmIssue(tenantctl.ConfirmIssueRequest{PlanHash: preview.PlanHash})
	require.Nil(t, errOut)

	apply, errOut := svc.ChangesApply(ctx(t), tenantctl.ApplyRequest{
		ChangeRequest:     req,
		PlanID:            preview.PlanID,
		PlanHash:          preview.PlanHash,
		ConfirmationToken: issued.Token,
	})
	require.Nil(t, errOut)
	require.Equal(t, "SUCCESS", apply.Status)
	require.EqualValues(t, 1, calls)
}

func TestScenario_PlanTamperRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("adapter must not be called on a tampered plan")
	}))
	defer srv.Close()

	svc := mustNewService(t, newTestConfig(srv.URL))

	req := dbCreateRequest([]string{"P_A"})
	preview, errOut := svc.ChangesPreview(tenantctl.PreviewRequest{ChangeRequest: req})
	require.Nil(t, errOut)

	_, errOut = svc.ChangesApply(ctx(t), tenantctl.ApplyRequest{ChangeRequest: req, PlanID: preview.PlanID, PlanHash: preview.PlanHash + "x"})
	require.NotNil(t, errOut)
	require.Equal(t, tenantctl.ErrPlanMismatch, errOut.Code)
}

func TestScenario_ScopeDowngradeBlocked(t *testing.T) {
	svc := mustNewService(t, newTestConfig("https://example.test"))

	req := tenantctl.ChangeRequest{
		Actor:   "actor1",
		Targets: []tenantctl.TargetInput{{ProjectID: "P_A"}},
		Operations: []tenantctl.Operation{
			{OperationID: "op1", Domain: tenantctl.DomainAuth, Action: "auth.users.create", Params: map[string]any{"user_id": "u1", "email": "x@y"}, RequiredScopes: []string{"users.read"}},
		},
	}

	preview, errOut := svc.ChangesPreview(tenantctl.PreviewRequest{ChangeRequest: req})
	require.Nil(t, errOut)
	require.Contains(t, preview.RequiredScopes, "users.read")
	require.Contains(t, preview.RequiredScopes, "users.write")
}

func TestScenario_LegacyAliasRouting(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	svc := mustNewService(t, newTestConfig(srv.URL))

	req := tenantctl.ChangeRequest{
		Actor:   "actor1",
		Targets: []tenantctl.TargetInput{{ProjectID: "P_A"}},
		Operations: []tenantctl.Operation{
			{OperationID: "op1", Domain: tenantctl.DomainAuth, Action: "auth.users.update", Params: map[string]any{"user_id": "u_01", "name": "Updated"}},
		},
	}
	preview, errOut := svc.ChangesPreview(tenantctl.PreviewRequest{ChangeRequest: req})
	require.Nil(t, errOut)
	_, errOut = svc.ChangesApply(ctx(t), tenantctl.ApplyRequest{ChangeRequest: req, PlanID: preview.PlanID, PlanHash: preview.PlanHash})
	require.Nil(t, errOut)
	require.Equal(t, []string{"/users/u_01/name"}, gotPaths)
}

func TestCapabilitiesList_RejectsUnsupportedTransport(t *testing.T) {
	cfg := newTestConfig("https://example.test")
	cfg.SupportedTransports = []string{"stdio"}
	svc := mustNewService(t, cfg)

	_, errOut := svc.CapabilitiesList("http")
	require.NotNil(t, errOut)
	require.Equal(t, tenantctl.ErrCapabilityUnavail, errOut.Code)
	require.Equal(t, []string{"stdio"}, errOut.SupportedTransports)
}

func TestScopesCatalogGet_ReturnsStableVersion(t *testing.T) {
	svc := mustNewService(t, newTestConfig("https://example.test"))

	first := svc.ScopesCatalogGet()
	second := svc.ScopesCatalogGet()

	require.Equal(t, first.CatalogVersion, second.CatalogVersion)
	require.Contains(t, first.Actions, "database.create")
}
