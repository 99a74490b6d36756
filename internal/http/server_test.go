package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"expenses/internal/auth"
	"expenses/internal/export"
	"expenses/internal/log"
	"expenses/internal/services"
	"expenses/internal/storage"
	"expenses/internal/validation"
)

var fixedNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

type ServerTestSuite struct {
	suite.Suite
	store    *storage.Store
	server   *Server
	readyErr error
}

func (s *ServerTestSuite) SetupTest() {
	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, ":memory:")
	require.NoError(s.T(), err)
	s.store = store
	s.readyErr = nil

	codec, err := auth.NewTokenCodec("test-secret-key-1234", 30*time.Minute)
	require.NoError(s.T(), err)
	clock := func() time.Time { return fixedNow }
	v := validation.MustNew()

	s.server = NewServer(":0", Deps{
		Accounts: services.NewAccountService(store, auth.NewBcryptHasher(bcrypt.MinCost), codec, v, services.WithClock(clock)),
		Expenses: services.NewExpenseService(store, v, services.WithClock(clock)),
		Resolver: auth.NewIdentityResolver(codec, store, clock),
		Ready: func(ctx context.Context) error {
			if s.readyErr != nil {
				return s.readyErr
			}
			return store.Ping(ctx)
		},
		Logger: log.New(log.Config{Level: slog.LevelError, Output: io.Discard, Component: log.ComponentHTTP}),
	})
}

func (s *ServerTestSuite) TearDownTest() {
	s.store.Close()
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) do(method, path, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rr, req)
	return rr
}

func (s *ServerTestSuite) login(username, password string) *httptest.ResponseRecorder {
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rr, req)
	return rr
}

func signupBody(name string) string {
	return `{"username":"` + name + `","email":"` + name + `@x.com","password":"password1","confirm_password":"password1"}`
}

// register signs a user up and returns a bearer token for them.
func (s *ServerTestSuite) register(name string) string {
	rr := s.do(http.MethodPost, "/signup", signupBody(name), "")
	require.Equal(s.T(), http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.login(name, "password1")
	require.Equal(s.T(), http.StatusOK, rr.Code, rr.Body.String())
	var session map[string]string
	require.NoError(s.T(), json.Unmarshal(rr.Body.Bytes(), &session))
	return session["access_token"]
}

func (s *ServerTestSuite) addExpense(token, body string) int64 {
	rr := s.do(http.MethodPost, "/expenses", body, token)
	require.Equal(s.T(), http.StatusCreated, rr.Code, rr.Body.String())
	var resp struct {
		ID int64 `json:"id"`
	}
	require.NoError(s.T(), json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.ID
}

type listedExpense struct {
	ID          int64   `json:"id"`
	UserID      int64   `json:"user_id"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description *string `json:"description"`
	Date        string  `json:"date"`
}

func (s *ServerTestSuite) list(token, query string) []listedExpense {
	rr := s.do(http.MethodGet, "/expenses"+query, "", token)
	require.Equal(s.T(), http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Expenses []listedExpense `json:"expenses"`
	}
	require.NoError(s.T(), json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Expenses
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

// firstLoc returns the loc of the first violation in a 422 body.
func firstLoc(t *testing.T, rr *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp struct {
		Detail []struct {
			Loc  []string `json:"loc"`
			Type string   `json:"type"`
		} `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	require.NotEmpty(t, resp.Detail)
	return resp.Detail[0].Loc
}

func (s *ServerTestSuite) TestSignupLoginAddThenDeleteAccount() {
	t := s.T()

	rr := s.do(http.MethodPost, "/signup", `{"username":"alice","email":"a@x.com","password":"password1","confirm_password":"password1"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decodeMap(t, rr)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "User 'alice' successfully registered", body["detail"])

	rr = s.login("alice", "password1")
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeMap(t, rr)
	token, _ := body["access_token"].(string)
	assert.Len(t, strings.Split(token, "."), 3)
	assert.Equal(t, "bearer", body["token_type"])

	rr = s.do(http.MethodPost, "/expenses", `{"amount":50.00,"category":"utilities"}`, token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body = decodeMap(t, rr)
	assert.Equal(t, "Expense $50.00 added.", body["message"])

	expenses := s.list(token, "")
	require.Len(t, expenses, 1)
	assert.Equal(t, "Utilities", expenses[0].Category)
	assert.Equal(t, "2025-06-30", expenses[0].Date)
	assert.Equal(t, 50.0, expenses[0].Amount)
	assert.Equal(t, int64(1), expenses[0].UserID)
	assert.Nil(t, expenses[0].Description)

	rr = s.do(http.MethodDelete, "/user", "", token)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())

	rr = s.do(http.MethodGet, "/expenses", "", token)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
	assert.Equal(t, auth.CredentialsErrorDetail, decodeMap(t, rr)["detail"])
}

func (s *ServerTestSuite) TestHealthAndReadiness() {
	t := s.T()

	rr := s.do(http.MethodGet, "/healthy", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"Healthy"}`, rr.Body.String())

	rr = s.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"Ready"}`, rr.Body.String())

	s.readyErr = errors.New("database is locked")
	rr = s.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func (s *ServerTestSuite) TestProtectedRoutesRequireBearer() {
	t := s.T()

	cases := []struct {
		name   string
		header string
		detail string
	}{
		{"missing header", "", msgNotAuthenticated},
		{"basic scheme", "Basic YWxpY2U6cHc=", msgNotAuthenticated},
		{"empty bearer", "Bearer ", msgNotAuthenticated},
		{"garbage token", "Bearer not.a.token", auth.CredentialsErrorDetail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/expenses", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			s.server.Handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
			assert.Equal(t, tc.detail, decodeMap(t, rr)["detail"])
		})
	}
}

func (s *ServerTestSuite) TestSignupErrors() {
	t := s.T()
	s.register("alice")

	rr := s.do(http.MethodPost, "/signup", `{"username":"other","email":"alice@x.com","password":"password1","confirm_password":"password1"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, services.MsgEmailRegistered, decodeMap(t, rr)["detail"])

	rr = s.do(http.MethodPost, "/signup", `{"username":"alice","email":"new@x.com","password":"password1","confirm_password":"password1"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, services.MsgUsernameTaken, decodeMap(t, rr)["detail"])

	rr = s.do(http.MethodPost, "/signup", `{"username":"bob","email":"bob@x.com","password":"password1","confirm_password":"password2"}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{"body", "confirm_password"}, firstLoc(t, rr))

	rr = s.do(http.MethodPost, "/signup", `{"username":`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{"body"}, firstLoc(t, rr))

	rr = s.do(http.MethodPost, "/signup", `{"username":42}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{"body", "username"}, firstLoc(t, rr))
}

func (s *ServerTestSuite) TestLogin() {
	t := s.T()
	s.register("alice")

	rr := s.login("alice", "wrong-password")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, services.MsgInvalidCredentials, decodeMap(t, rr)["detail"])

	rr = s.login("nobody", "password1")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, services.MsgInvalidCredentials, decodeMap(t, rr)["detail"])

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), `"loc":["body","username"]`)
	assert.Contains(t, rr.Body.String(), `"loc":["body","password"]`)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("username", "alice"))
	require.NoError(t, mw.WriteField("password", "password1"))
	require.NoError(t, mw.Close())
	req = httptest.NewRequest(http.MethodPost, "/login", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func (s *ServerTestSuite) TestAddExpenseValidation() {
	t := s.T()
	token := s.register("alice")

	cases := []struct {
		name string
		body string
		loc  []string
	}{
		{"missing amount", `{"category":"health"}`, []string{"body", "amount"}},
		{"zero amount", `{"amount":0,"category":"health"}`, []string{"body", "amount"}},
		{"unknown category", `{"amount":5,"category":"travel"}`, []string{"body", "category"}},
		{"bad date", `{"amount":5,"category":"health","date":"30/06/2025"}`, []string{"body", "date"}},
		{"malformed json", `{"amount":5,`, []string{"body"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(http.MethodPost, "/expenses", tc.body, token)
			assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
			assert.Equal(t, tc.loc, firstLoc(t, rr))
		})
	}
}

func (s *ServerTestSuite) TestListFilters() {
	t := s.T()
	token := s.register("alice")
	s.addExpense(token, `{"amount":1,"category":"health","date":"2025-06-28"}`)
	s.addExpense(token, `{"amount":2,"category":"health","date":"2025-06-10"}`)
	s.addExpense(token, `{"amount":3,"category":"health","date":"2025-04-01","description":"old"}`)
	s.addExpense(token, `{"amount":4,"category":"health","date":"2025-06-28"}`)

	all := s.list(token, "")
	require.Len(t, all, 4)
	assert.Equal(t, []float64{1, 4, 2, 3}, amounts(all))

	assert.Equal(t, []float64{1, 4}, amounts(s.list(token, "?period=WEEK")))
	assert.Equal(t, []float64{1, 4, 2}, amounts(s.list(token, "?period=month")))
	assert.Equal(t, []float64{2}, amounts(s.list(token, "?from_date=2025-06-01&to_date=2025-06-15")))
	assert.Equal(t, []float64{2}, amounts(s.list(token, "?start_date=2025-06-01&end_date=2025-06-15")))
	assert.Equal(t, []float64{1, 4, 2, 3}, amounts(s.list(token, "?period=3months&from_date=2025-06-20")))

	rr := s.do(http.MethodGet, "/expenses?from_date=2025-06-15&to_date=2025-06-01", "", token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "from_date cannot be later than to_date.", decodeMap(t, rr)["detail"])

	rr = s.do(http.MethodGet, "/expenses?period=year", "", token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid period. Allowed periods are: week, month, 3months", decodeMap(t, rr)["detail"])

	rr = s.do(http.MethodGet, "/expenses?from_date=yesterday", "", token)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{"query", "from_date"}, firstLoc(t, rr))
}

func amounts(expenses []listedExpense) []float64 {
	out := make([]float64, len(expenses))
	for i, e := range expenses {
		out[i] = e.Amount
	}
	return out
}

func (s *ServerTestSuite) TestListIsScopedToOwner() {
	t := s.T()
	alice := s.register("alice")
	bob := s.register("bob")
	s.addExpense(alice, `{"amount":1,"category":"health"}`)

	assert.Len(t, s.list(alice, ""), 1)
	assert.Empty(t, s.list(bob, ""))

	rr := s.do(http.MethodGet, "/expenses", "", bob)
	assert.JSONEq(t, `{"expenses":[]}`, rr.Body.String())
}

func (s *ServerTestSuite) TestUpdateExpense() {
	t := s.T()
	alice := s.register("alice")
	bob := s.register("bob")
	id := s.addExpense(alice, `{"amount":10,"category":"health","description":"pills","date":"2025-06-01"}`)
	path := "/expenses/" + strconvID(id)

	rr := s.do(http.MethodPut, path, `{"amount":"12.5","category":null}`, alice)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Expense with ID "+strconvID(id)+" successfully updated.", decodeMap(t, rr)["message"])

	got := s.list(alice, "")
	require.Len(t, got, 1)
	assert.Equal(t, 12.5, got[0].Amount)
	assert.Equal(t, "Health", got[0].Category)
	require.NotNil(t, got[0].Description)
	assert.Equal(t, "pills", *got[0].Description)

	notOwned := s.do(http.MethodPut, path, `{"amount":1}`, bob)
	missing := s.do(http.MethodPut, "/expenses/999", `{"amount":1}`, bob)
	assert.Equal(t, http.StatusNotFound, notOwned.Code)
	assert.Equal(t, notOwned.Body.String(), missing.Body.String())
	assert.Equal(t, services.MsgExpenseMissing, decodeMap(t, notOwned)["detail"])

	rr = s.do(http.MethodPut, "/expenses/0", `{"amount":1}`, alice)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{"path", "id"}, firstLoc(t, rr))

	rr = s.do(http.MethodPut, "/expenses/abc", `{"amount":1}`, alice)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{"path", "id"}, firstLoc(t, rr))

	rr = s.do(http.MethodPut, path, `{"category":"travel"}`, alice)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{"body", "category"}, firstLoc(t, rr))
}

func (s *ServerTestSuite) TestDeleteExpense() {
	t := s.T()
	alice := s.register("alice")
	bob := s.register("bob")
	id := s.addExpense(alice, `{"amount":10,"category":"health"}`)
	path := "/expenses/" + strconvID(id)

	rr := s.do(http.MethodDelete, path, "", bob)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, services.MsgExpenseNotDeleted, decodeMap(t, rr)["detail"])

	rr = s.do(http.MethodDelete, path, "", alice)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, s.list(alice, ""))

	rr = s.do(http.MethodDelete, path, "", alice)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(http.MethodDelete, "/expenses/abc", "", alice)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func (s *ServerTestSuite) TestUpdateUsername() {
	t := s.T()
	alice := s.register("alice")
	s.register("bob")

	rr := s.do(http.MethodPut, "/user", `{"username":"bob"}`, alice)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, services.MsgUsernameInUse, decodeMap(t, rr)["detail"])

	rr = s.do(http.MethodPut, "/user", `{"username":"a!"}`, alice)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{"body", "username"}, firstLoc(t, rr))

	rr = s.do(http.MethodPut, "/user", `{"username":"alice"}`, alice)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodPut, "/user", `{"username":"alice_2"}`, alice)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"msg":"Username updated successfully.","username":"alice_2"}`, rr.Body.String())

	// The token is bound to the user id, so it survives the rename.
	assert.Empty(t, s.list(alice, ""))
}

func (s *ServerTestSuite) TestDeleteAccountTwice() {
	t := s.T()
	token := s.register("alice")

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/user", "", token).Code)
	rr := s.do(http.MethodDelete, "/user", "", token)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func (s *ServerTestSuite) TestExportExpenses() {
	t := s.T()
	token := s.register("alice")
	s.addExpense(token, `{"amount":12.5,"category":"groceries","date":"2025-06-28"}`)
	s.addExpense(token, `{"amount":3,"category":"health","date":"2025-01-01"}`)

	rr := s.do(http.MethodGet, "/expenses/export?period=week", "", token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, export.ContentType, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), exportFilename)

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.ExpensesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2025-06-28", rows[1][0])
	assert.Equal(t, "Groceries", rows[1][1])

	rr = s.do(http.MethodGet, "/expenses/export?period=decade", "", token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func (s *ServerTestSuite) TestResponseHeaders() {
	t := s.T()

	req := httptest.NewRequest(http.MethodGet, "/healthy", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rr, req)

	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	rr = s.do(http.MethodGet, "/healthy/", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, rr.Body.String())
}

func (s *ServerTestSuite) TestStoreFailureIsInternalError() {
	t := s.T()
	token := s.register("alice")
	require.NoError(t, s.store.Close())

	rr := s.do(http.MethodGet, "/expenses", "", token)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, msgInternalError, decodeMap(t, rr)["detail"])
}

func (s *ServerTestSuite) TestShutdownIsIdempotent() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.NoError(s.server.Shutdown(ctx))
	s.NoError(s.server.Shutdown(ctx))
}

func strconvID(id int64) string {
	return strconv.FormatInt(id, 10)
}
