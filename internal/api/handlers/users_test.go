package handlers_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/iotgrid/user-service/internal/api"
	"github.com/iotgrid/user-service/internal/auth"
	"github.com/iotgrid/user-service/internal/database/models"
	"github.com/iotgrid/user-service/internal/idp"
	"github.com/iotgrid/user-service/internal/orgs"
	"github.com/iotgrid/user-service/internal/testutil"
	"github.com/iotgrid/user-service/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// stubProvider satisfies users.IdentityProvider with injectable failures.
type stubProvider struct {
	mu          sync.Mutex
	createErr   error
	createCalls int
}

func (s *stubProvider) CreateUser(ctx context.Context, user idp.NewUser) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return "", s.createErr
	}
	return "ext-" + user.Username, nil
}

func (s *stubProvider) UpdateUser(ctx context.Context, id string, update idp.UserUpdate) error {
	return nil
}

func (s *stubProvider) DeleteUser(ctx context.Context, id string) error { return nil }

func (s *stubProvider) AssignRole(ctx context.Context, id, roleName string) error { return nil }

func (s *stubProvider) RemoveRole(ctx context.Context, id, roleName string) error { return nil }

func (s *stubProvider) UserRoles(ctx context.Context, id string) []string { return nil }

type testEnv struct {
	db       *gorm.DB
	provider *stubProvider
	router   *api.Router
}

func setupEnv(t *testing.T) *testEnv {
	return setupEnvRateLimited(t, 0)
}

func setupEnvRateLimited(t *testing.T, requests int) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	provider := &stubProvider{}
	logger := slog.Default()
	userService := users.NewService(users.NewStore(db), provider, "viewer", logger)

	router := api.NewRouter(api.RouterConfig{
		DB:             db,
		Logger:         logger,
		TokenValidator: auth.NewTokenValidator(testutil.TestJWTSecret),
		UserService:    userService,
		OrgService:     orgs.NewService(db, logger),
		RateLimitReqs:  requests,
		RateLimitSecs:  60,
	})

	return &testEnv{db: db, provider: provider, router: router}
}

func registerBody(username string) map[string]interface{} {
	return map[string]interface{}{
		"username":   username,
		"email":      username + "@example.com",
		"first_name": "Alice",
		"last_name":  "Anderson",
		"password":   "s3cret-password",
	}
}

func TestRegisterEndpoint(t *testing.T) {
	env := setupEnv(t)

	req := testutil.UnauthenticatedRequest(t, "POST", "/api/v1/users/register", registerBody("alice"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	testutil.AssertStatus(t, rr, 201)

	var resp users.UserResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, []string{"viewer"}, resp.Roles)
	assert.Equal(t, models.UserStatusActive, resp.Status)
}

func TestRegisterEndpointValidation(t *testing.T) {
	env := setupEnv(t)

	body := registerBody("alice")
	body["password"] = "short"
	req := testutil.UnauthenticatedRequest(t, "POST", "/api/v1/users/register", body)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	testutil.AssertStatus(t, rr, 400)
	assert.Zero(t, env.provider.createCalls)
}

func TestRegisterEndpointConflict(t *testing.T) {
	env := setupEnv(t)

	req := testutil.UnauthenticatedRequest(t, "POST", "/api/v1/users/register", registerBody("alice"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 201)

	req = testutil.UnauthenticatedRequest(t, "POST", "/api/v1/users/register", registerBody("alice"))
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 409)
}

func TestRegisterEndpointProviderDown(t *testing.T) {
	env := setupEnv(t)
	env.provider.createErr = idp.ErrUnavailable

	req := testutil.UnauthenticatedRequest(t, "POST", "/api/v1/users/register", registerBody("alice"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	testutil.AssertStatus(t, rr, 502)
}

func TestMeRequiresAuth(t *testing.T) {
	env := setupEnv(t)

	req := testutil.UnauthenticatedRequest(t, "GET", "/api/v1/users/me", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	testutil.AssertStatus(t, rr, 401)
}

func TestMeReturnsProfileAndStampsLogin(t *testing.T) {
	env := setupEnv(t)
	user := testutil.CreateTestUser(t, env.db, nil)
	token := testutil.GenerateTestToken(t, user.ExternalID)

	req := testutil.AuthenticatedRequest(t, "GET", "/api/v1/users/me", nil, token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	testutil.AssertStatus(t, rr, 200)

	var resp users.UserResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, user.Username, resp.Username)
	require.NotNil(t, resp.LastLoginAt)
}

func TestUpdateMe(t *testing.T) {
	env := setupEnv(t)
	user := testutil.CreateTestUser(t, env.db, nil)
	token := testutil.GenerateTestToken(t, user.ExternalID)

	body := map[string]interface{}{"first_name": "Alicia"}
	req := testutil.AuthenticatedRequest(t, "PUT", "/api/v1/users/me", body, token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	testutil.AssertStatus(t, rr, 200)

	var resp users.UserResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, "Alicia", resp.FirstName)
}

func TestGetUserRequiresElevatedRole(t *testing.T) {
	env := setupEnv(t)
	target := testutil.CreateTestUser(t, env.db, nil)
	caller := testutil.CreateTestUser(t, env.db, nil)

	viewerToken := testutil.GenerateTestToken(t, caller.ExternalID, "viewer")
	req := testutil.AuthenticatedRequest(t, "GET", "/api/v1/users/"+target.ID.String(), nil, viewerToken)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 403)

	operatorToken := testutil.GenerateTestToken(t, caller.ExternalID, "operator")
	req = testutil.AuthenticatedRequest(t, "GET", "/api/v1/users/"+target.ID.String(), nil, operatorToken)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 200)
}

func TestAssignRoleEndpoint(t *testing.T) {
	env := setupEnv(t)
	admin := testutil.CreateTestUser(t, env.db, nil)
	target := testutil.CreateTestUser(t, env.db, nil)
	token := testutil.GenerateTestToken(t, admin.ExternalID, "admin")

	path := "/api/v1/users/" + target.ID.String() + "/roles/operator"
	req := testutil.AuthenticatedRequest(t, "POST", path, nil, token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	testutil.AssertStatus(t, rr, 200)

	var resp struct {
		Assigned bool   `json:"assigned"`
		Message  string `json:"message"`
	}
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.True(t, resp.Assigned)

	// Second grant reports already-assigned
	req = testutil.AuthenticatedRequest(t, "POST", path, nil, token)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 200)
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.False(t, resp.Assigned)
	assert.Equal(t, "Role already assigned", resp.Message)
}

func TestRemoveRoleEndpointNotAssigned(t *testing.T) {
	env := setupEnv(t)
	admin := testutil.CreateTestUser(t, env.db, nil)
	target := testutil.CreateTestUser(t, env.db, nil)
	token := testutil.GenerateTestToken(t, admin.ExternalID, "admin")

	path := "/api/v1/users/" + target.ID.String() + "/roles/operator"
	req := testutil.AuthenticatedRequest(t, "DELETE", path, nil, token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	testutil.AssertStatus(t, rr, 404)
}

func TestRoleEndpointsRequireAdmin(t *testing.T) {
	env := setupEnv(t)
	caller := testutil.CreateTestUser(t, env.db, nil)
	target := testutil.CreateTestUser(t, env.db, nil)
	token := testutil.GenerateTestToken(t, caller.ExternalID, "operator")

	path := "/api/v1/users/" + target.ID.String() + "/roles/operator"
	req := testutil.AuthenticatedRequest(t, "POST", path, nil, token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	testutil.AssertStatus(t, rr, 403)
}

func TestDeactivateEndpoint(t *testing.T) {
	env := setupEnv(t)
	admin := testutil.CreateTestUser(t, env.db, nil)
	target := testutil.CreateTestUser(t, env.db, nil)
	token := testutil.GenerateTestToken(t, admin.ExternalID, "admin")

	req := testutil.AuthenticatedRequest(t, "POST", "/api/v1/users/"+target.ID.String()+"/deactivate", nil, token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 200)

	var reloaded models.User
	require.NoError(t, env.db.First(&reloaded, "id = ?", target.ID).Error)
	assert.Equal(t, models.UserStatusInactive, reloaded.Status)
}

func TestOrganizationEndpoints(t *testing.T) {
	env := setupEnv(t)
	admin := testutil.CreateTestUser(t, env.db, nil)
	adminToken := testutil.GenerateTestToken(t, admin.ExternalID, "admin")
	viewerToken := testutil.GenerateTestToken(t, admin.ExternalID, "viewer")

	// Create requires admin
	body := map[string]interface{}{"name": "Acme Sensors", "contact_email": "ops@acme.example"}
	req := testutil.AuthenticatedRequest(t, "POST", "/api/v1/organizations/", body, viewerToken)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 403)

	req = testutil.AuthenticatedRequest(t, "POST", "/api/v1/organizations/", body, adminToken)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 201)

	var org models.Organization
	testutil.ParseJSONResponse(t, rr, &org)
	assert.Equal(t, "Acme Sensors", org.Name)
	assert.Equal(t, models.OrganizationStatusActive, org.Status)

	// Any authenticated caller can read
	req = testutil.AuthenticatedRequest(t, "GET", "/api/v1/organizations/"+org.ID.String(), nil, viewerToken)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 200)

	req = testutil.AuthenticatedRequest(t, "GET", "/api/v1/organizations/", nil, viewerToken)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 200)
}

func TestRateLimitKeysByAuthenticatedSubject(t *testing.T) {
	env := setupEnvRateLimited(t, 1)
	alice := testutil.CreateTestUser(t, env.db, nil)
	bob := testutil.CreateTestUser(t, env.db, nil)
	aliceToken := testutil.GenerateTestToken(t, alice.ExternalID)
	bobToken := testutil.GenerateTestToken(t, bob.ExternalID)

	// httptest requests share one RemoteAddr, so only subject keying can
	// explain separate budgets below.
	req := testutil.AuthenticatedRequest(t, "GET", "/api/v1/users/me", nil, aliceToken)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 200)

	req = testutil.AuthenticatedRequest(t, "GET", "/api/v1/users/me", nil, aliceToken)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 429)

	req = testutil.AuthenticatedRequest(t, "GET", "/api/v1/users/me", nil, bobToken)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 200)
}

func TestRateLimitCoversRegistration(t *testing.T) {
	env := setupEnvRateLimited(t, 1)

	req := testutil.UnauthenticatedRequest(t, "POST", "/api/v1/users/register", registerBody("alice"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 201)

	// Same source address: the anonymous budget is per-IP
	req = testutil.UnauthenticatedRequest(t, "POST", "/api/v1/users/register", registerBody("bob"))
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 429)
}

func TestListOrganizationUsers(t *testing.T) {
	env := setupEnv(t)
	org := testutil.CreateTestOrg(t, env.db)
	member := testutil.CreateTestUser(t, env.db, org)
	admin := testutil.CreateTestUser(t, env.db, nil)
	token := testutil.GenerateTestToken(t, admin.ExternalID, "admin")

	req := testutil.AuthenticatedRequest(t, "GET", "/api/v1/organizations/"+org.ID.String()+"/users", nil, token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	testutil.AssertStatus(t, rr, 200)

	var list []users.UserResponse
	testutil.ParseJSONResponse(t, rr, &list)
	require.Len(t, list, 1)
	assert.Equal(t, member.Username, list[0].Username)
}
