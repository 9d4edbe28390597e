package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrilink-io/agrilink/internal/auth"
	"github.com/agrilink-io/agrilink/internal/model"
	"github.com/agrilink-io/agrilink/internal/server"
	"github.com/agrilink-io/agrilink/internal/service/contracts"
	"github.com/agrilink-io/agrilink/internal/service/engagements"
	"github.com/agrilink-io/agrilink/internal/storage"
	"github.com/agrilink-io/agrilink/internal/testutil"
)

var (
	testDB  *storage.DB
	testSrv *httptest.Server
	jwtMgr  *auth.JWTManager
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	jwtMgr, err = auth.NewJWTManager("", "", time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create JWT manager: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		JWTMgr:              jwtMgr,
		ContractSvc:         contracts.New(testDB, logger),
		EngagementSvc:       engagements.New(testDB, logger),
		Logger:              logger,
		Port:                0,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 * 1024 * 1024,
	})

	testSrv = httptest.NewServer(srv.Handler())

	code := m.Run()

	testSrv.Close()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// newParty registers a party directly in storage and returns it with a token.
func newParty(t *testing.T, role model.PartyRole) (model.Party, string) {
	t.Helper()
	hash, err := auth.HashAPIKey("test-key")
	require.NoError(t, err)
	p, err := testDB.CreateParty(context.Background(), model.Party{
		Name:       fmt.Sprintf("%s-%s", role, uuid.New().String()[:8]),
		Role:       role,
		APIKeyHash: &hash,
		Active:     true,
	})
	require.NoError(t, err)

	token, _, err := jwtMgr.IssueToken(p)
	require.NoError(t, err)
	return p, token
}

func doJSON(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, testSrv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func dataField(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", envelope)
	return data
}

func TestHealth(t *testing.T) {
	resp, body := doJSON(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", dataField(t, body)["status"])
}

func TestAuthTokenFlow(t *testing.T) {
	p, _ := newParty(t, model.RoleCoordinator)

	resp, body := doJSON(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
		PartyID: p.ID,
		APIKey:  "test-key",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := dataField(t, body)["token"].(string)
	require.NotEmpty(t, token)

	// The issued token works against an authenticated route.
	resp, _ = doJSON(t, http.MethodGet, "/v1/contracts", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Wrong key is rejected without revealing whether the party exists.
	resp, body = doJSON(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
		PartyID: p.ID,
		APIKey:  "wrong-key",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body2 := doJSON(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
		PartyID: uuid.New(),
		APIKey:  "wrong-key",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, body["error"].(map[string]any)["message"], body2["error"].(map[string]any)["message"])
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	resp, _ := doJSON(t, http.MethodGet, "/v1/contracts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPartyAdminRoutes(t *testing.T) {
	_, adminToken := newParty(t, model.RoleAdmin)
	_, farmToken := newParty(t, model.RoleFarm)

	resp, body := doJSON(t, http.MethodPost, "/v1/parties", adminToken, model.CreatePartyRequest{
		Name:   "Hokuren Processing No. 3-" + uuid.New().String()[:8],
		Role:   model.RoleFactory,
		APIKey: "factory-key",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := dataField(t, body)
	assert.Equal(t, "factory", created["role"])

	// Non-admin roles cannot manage parties.
	resp, _ = doJSON(t, http.MethodGet, "/v1/parties", farmToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, "/v1/parties", adminToken, model.CreatePartyRequest{
		Name: "missing key", Role: model.RoleFarm,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestContractNegotiationOverHTTP(t *testing.T) {
	_, coordToken := newParty(t, model.RoleCoordinator)
	factory, factoryToken := newParty(t, model.RoleFactory)

	// Coordinator opens: starts pending.
	resp, body := doJSON(t, http.MethodPost, "/v1/contracts", coordToken, model.CreateContractRequest{
		CounterpartyID: factory.ID,
		Title:          "beet harvest crew",
		ContractValue:  80000,
		DurationDays:   60,
		RequestPayload: map[string]any{"workers": 8},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", body)
	c := dataField(t, body)
	assert.Equal(t, "pending", c["status"])
	assert.Equal(t, true, c["is_active"])
	contractID := c["id"].(string)

	// Factory counters.
	resp, body = doJSON(t, http.MethodPost, "/v1/contracts/"+contractID+"/actions", factoryToken, model.ContractActionRequest{
		Action:  "counter",
		Payload: map[string]any{"workers": 6, "rate": 21.0},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	c = dataField(t, body)
	assert.Equal(t, "counter_offer", c["status"])
	assert.NotNil(t, c["responded_at"])

	// Only the initiator finalizes a counter: the factory's accept is invalid.
	resp, _ = doJSON(t, http.MethodPost, "/v1/contracts/"+contractID+"/actions", factoryToken, model.ContractActionRequest{
		Action: "accept",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Coordinator accepts the revised terms.
	resp, body = doJSON(t, http.MethodPost, "/v1/contracts/"+contractID+"/actions", coordToken, model.ContractActionRequest{
		Action: "accept",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	c = dataField(t, body)
	assert.Equal(t, "accepted", c["status"])
	assert.Equal(t, true, c["is_finalized"])
	assert.Equal(t, true, c["is_active"])
	assert.NotNil(t, c["finalized_at"])

	// Accepting twice is an invalid transition, surfaced as 409.
	resp, body = doJSON(t, http.MethodPost, "/v1/contracts/"+contractID+"/actions", coordToken, model.ContractActionRequest{
		Action: "accept",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidTransition, body["error"].(map[string]any)["code"])
}

func TestContractVisibilityScoping(t *testing.T) {
	_, coordToken := newParty(t, model.RoleCoordinator)
	factory, _ := newParty(t, model.RoleFactory)
	_, outsiderToken := newParty(t, model.RoleCoordinator)

	resp, body := doJSON(t, http.MethodPost, "/v1/contracts", coordToken, model.CreateContractRequest{
		CounterpartyID: factory.ID,
		Title:          "private negotiation",
		DurationDays:   30,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	contractID := dataField(t, body)["id"].(string)

	// A third party bound to neither side cannot read it.
	resp, _ = doJSON(t, http.MethodGet, "/v1/contracts/"+contractID, outsiderToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Farm operators have no contract routes at all.
	_, farmToken := newParty(t, model.RoleFarm)
	resp, _ = doJSON(t, http.MethodGet, "/v1/contracts/"+contractID, farmToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEngagementExclusivityOverHTTP(t *testing.T) {
	_, farmToken := newParty(t, model.RoleFarm)
	coordA, coordAToken := newParty(t, model.RoleCoordinator)
	coordB, _ := newParty(t, model.RoleCoordinator)

	submit := func(target uuid.UUID) string {
		resp, body := doJSON(t, http.MethodPost, "/v1/engagements", farmToken, model.CreateEngagementRequest{
			TargetID:        target,
			ContractDetails: map[string]any{"crop": "onion"},
			DurationDays:    120,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", body)
		return dataField(t, body)["id"].(string)
	}

	first := submit(coordA.ID)
	second := submit(coordB.ID)

	resp, body := doJSON(t, http.MethodPost, "/v1/engagements/"+first+"/accept", coordAToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	assert.Equal(t, "accepted", dataField(t, body)["status"])

	// The sibling was retired atomically with the accept.
	resp, body = doJSON(t, http.MethodGet, "/v1/engagements", farmToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["data"].([]any)
	statuses := map[string]string{}
	for _, item := range list {
		e := item.(map[string]any)
		statuses[e["id"].(string)] = e["status"].(string)
	}
	assert.Equal(t, "accepted", statuses[first])
	assert.Equal(t, "auto_cancelled", statuses[second])

	// Farm operators cannot accept; the route is coordinator-only.
	resp, _ = doJSON(t, http.MethodPost, "/v1/engagements/"+second+"/accept", farmToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestContractStatsEndpoint(t *testing.T) {
	_, coordToken := newParty(t, model.RoleCoordinator)
	factory, factoryToken := newParty(t, model.RoleFactory)

	resp, body := doJSON(t, http.MethodPost, "/v1/contracts", coordToken, model.CreateContractRequest{
		CounterpartyID: factory.ID,
		Title:          "stats sample",
		ContractValue:  12000,
		DurationDays:   45,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	contractID := dataField(t, body)["id"].(string)

	// Factory counters, coordinator accepts the revised terms.
	resp, _ = doJSON(t, http.MethodPost, "/v1/contracts/"+contractID+"/actions", factoryToken, model.ContractActionRequest{
		Action:  "counter",
		Payload: map[string]any{"rate": 19.5},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, "/v1/contracts/"+contractID+"/actions", coordToken, model.ContractActionRequest{
		Action: "accept",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, "/v1/stats/contracts", coordToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := dataField(t, body)
	byStatus := stats["by_status"].(map[string]any)
	assert.Equal(t, float64(1), byStatus["accepted"])
	assert.InDelta(t, 12000, stats["total_value_accepted"].(float64), 0.01)
}
