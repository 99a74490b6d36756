package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"expenses/internal/amqp"
	"expenses/internal/auth"
	"expenses/internal/core"
	"expenses/internal/storage"
	"expenses/internal/validation"
)

var fixedNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []amqp.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e amqp.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type ServicesTestSuite struct {
	suite.Suite
	ctx       context.Context
	store     *storage.Store
	codec     *auth.TokenCodec
	events    *recordingPublisher
	accounts  *AccountService
	expenses  *ExpenseService
	validator *validation.Validator
}

func (s *ServicesTestSuite) SetupTest() {
	s.ctx = context.Background()

	store, err := storage.OpenSQLite(s.ctx, ":memory:")
	require.NoError(s.T(), err)
	s.store = store

	s.codec, err = auth.NewTokenCodec("test-secret-key-1234", 30*time.Minute)
	require.NoError(s.T(), err)

	s.validator = validation.MustNew()
	s.events = &recordingPublisher{}
	clock := func() time.Time { return fixedNow }

	s.accounts = NewAccountService(store, auth.NewBcryptHasher(bcrypt.MinCost), s.codec, s.validator,
		WithClock(clock), WithEvents(s.events))
	s.expenses = NewExpenseService(store, s.validator, WithClock(clock), WithEvents(s.events))
}

func (s *ServicesTestSuite) TearDownTest() {
	s.store.Close()
}

func TestServicesTestSuite(t *testing.T) {
	suite.Run(t, new(ServicesTestSuite))
}

func signup(name string) SignupInput {
	return SignupInput{
		Username:        name,
		Email:           name + "@x.com",
		Password:        "password1",
		ConfirmPassword: "password1",
	}
}

func (s *ServicesTestSuite) register(name string) core.User {
	id, err := s.accounts.Signup(s.ctx, signup(name))
	require.NoError(s.T(), err)
	user, err := s.store.UserByID(s.ctx, id)
	require.NoError(s.T(), err)
	return user
}

func num(v string) *json.Number {
	n := json.Number(v)
	return &n
}

func str(v string) *string { return &v }

func (s *ServicesTestSuite) add(user core.User, amount, category string, date core.Date) core.Expense {
	e, err := s.expenses.Add(s.ctx, user, ExpenseInput{Amount: num(amount), Category: str(category), Date: &date})
	require.NoError(s.T(), err)
	return e
}

func requireKind(t *testing.T, err error, kind error, detail string) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	assert.Equal(t, detail, core.Detail(err, ""))
}

func violationFields(t *testing.T, err error) []string {
	t.Helper()
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	var out []string
	for _, v := range ve.Violations {
		out = append(out, strings.Join(v.Loc, "."))
	}
	return out
}

func (s *ServicesTestSuite) TestSignup_AssignsIncreasingIDs() {
	a, err := s.accounts.Signup(s.ctx, signup("alice"))
	require.NoError(s.T(), err)
	b, err := s.accounts.Signup(s.ctx, signup("bob"))
	require.NoError(s.T(), err)

	assert.Equal(s.T(), int64(1), a)
	assert.Greater(s.T(), b, a)

	stored, err := s.store.UserByID(s.ctx, a)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "alice", stored.Username)
	assert.Equal(s.T(), "alice@x.com", stored.Email)
	assert.NotEqual(s.T(), "password1", stored.PasswordHash)
	assert.Equal(s.T(), []amqp.EventType{amqp.EventUserRegistered, amqp.EventUserRegistered}, s.events.types())
}

func (s *ServicesTestSuite) TestSignup_Conflicts() {
	s.register("alice")

	// Email is checked first, even when the username also clashes.
	_, err := s.accounts.Signup(s.ctx, signup("alice"))
	requireKind(s.T(), err, core.ErrConflict, MsgEmailRegistered)

	in := signup("alice")
	in.Email = "fresh@x.com"
	_, err = s.accounts.Signup(s.ctx, in)
	requireKind(s.T(), err, core.ErrConflict, MsgUsernameTaken)

	in = signup("carol")
	in.Email = "alice@x.com"
	_, err = s.accounts.Signup(s.ctx, in)
	requireKind(s.T(), err, core.ErrConflict, MsgEmailRegistered)
}

func (s *ServicesTestSuite) TestSignup_Validation() {
	tests := []struct {
		name   string
		mutate func(*SignupInput)
		field  string
	}{
		{"short username", func(in *SignupInput) { in.Username = "al" }, "body.username"},
		{"bad username chars", func(in *SignupInput) { in.Username = "al-ice" }, "body.username"},
		{"bad email", func(in *SignupInput) { in.Email = "nope" }, "body.email"},
		{"short password", func(in *SignupInput) { in.Password, in.ConfirmPassword = "pw", "pw" }, "body.password"},
		{"mismatch", func(in *SignupInput) { in.ConfirmPassword = "password2" }, "body.confirm_password"},
		{"password over bcrypt limit", func(in *SignupInput) {
			in.Password = strings.Repeat("é", 40)
			in.ConfirmPassword = in.Password
		}, "body.password"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			in := signup("dave")
			tt.mutate(&in)
			_, err := s.accounts.Signup(s.ctx, in)
			assert.ErrorIs(s.T(), err, core.ErrValidation)
			assert.Contains(s.T(), violationFields(s.T(), err), tt.field)
		})
	}

	_, err := s.store.Users().ByUsername(s.ctx, "dave")
	assert.ErrorIs(s.T(), err, core.ErrNotFound, "rejected signups store nothing")
}

func (s *ServicesTestSuite) TestLogin() {
	alice := s.register("alice")

	session, err := s.accounts.Login(s.ctx, "alice", "password1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "bearer", session.TokenType)
	assert.Len(s.T(), strings.Split(session.AccessToken, "."), 3)

	claims, err := s.codec.Parse(session.AccessToken, fixedNow.Add(time.Minute))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), alice.ID, claims.UserID)
	assert.Equal(s.T(), "alice", claims.Username)
	assert.Equal(s.T(), 30*time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt))

	_, err = s.accounts.Login(s.ctx, "alice", "wrong-password")
	requireKind(s.T(), err, core.ErrUnauthorized, MsgInvalidCredentials)
	_, err = s.accounts.Login(s.ctx, "nobody", "password1")
	requireKind(s.T(), err, core.ErrUnauthorized, MsgInvalidCredentials)
}

func (s *ServicesTestSuite) TestLogin_WithoutCodec() {
	s.register("alice")
	accounts := NewAccountService(s.store, auth.NewBcryptHasher(bcrypt.MinCost), nil, s.validator)
	_, err := accounts.Login(s.ctx, "alice", "password1")
	assert.Error(s.T(), err)
}

func (s *ServicesTestSuite) TestUpdateUsername() {
	alice := s.register("alice")
	s.register("bob")

	name, err := s.accounts.UpdateUsername(s.ctx, alice, UsernameInput{Username: "alicia"})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "alicia", name)

	stored, err := s.store.UserByID(s.ctx, alice.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "alicia", stored.Username)

	_, err = s.accounts.UpdateUsername(s.ctx, alice, UsernameInput{Username: "alicia"})
	assert.NoError(s.T(), err, "keeping the current name is allowed")

	_, err = s.accounts.UpdateUsername(s.ctx, alice, UsernameInput{Username: "bob"})
	requireKind(s.T(), err, core.ErrConflict, MsgUsernameInUse)

	_, err = s.accounts.UpdateUsername(s.ctx, alice, UsernameInput{Username: "no spaces"})
	assert.ErrorIs(s.T(), err, core.ErrValidation)

	_, err = s.accounts.UpdateUsername(s.ctx, core.User{ID: 99}, UsernameInput{Username: "ghost"})
	requireKind(s.T(), err, core.ErrNotFound, MsgUserNotFound)
}

func (s *ServicesTestSuite) TestDeleteAccount_Cascades() {
	alice := s.register("alice")
	bob := s.register("bob")
	s.add(alice, "10", "health", core.NewDate(2025, 6, 1))
	kept := s.add(bob, "20", "health", core.NewDate(2025, 6, 1))

	require.NoError(s.T(), s.accounts.DeleteAccount(s.ctx, alice))

	_, err := s.store.UserByID(s.ctx, alice.ID)
	assert.ErrorIs(s.T(), err, core.ErrNotFound)
	list, err := s.expenses.List(s.ctx, alice, ListFilter{})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), list)

	bobs, err := s.expenses.List(s.ctx, bob, ListFilter{})
	require.NoError(s.T(), err)
	require.Len(s.T(), bobs, 1)
	assert.Equal(s.T(), kept.ID, bobs[0].ID)

	err = s.accounts.DeleteAccount(s.ctx, alice)
	requireKind(s.T(), err, core.ErrNotFound, MsgUserNotFound)
}

func (s *ServicesTestSuite) TestDeletedUserTokenFailsResolution() {
	alice := s.register("alice")
	session, err := s.accounts.Login(s.ctx, "alice", "password1")
	require.NoError(s.T(), err)

	resolver := auth.NewIdentityResolver(s.codec, s.store, func() time.Time { return fixedNow })
	got, err := resolver.Resolve(s.ctx, session.AccessToken)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), alice.ID, got.ID)

	require.NoError(s.T(), s.accounts.DeleteAccount(s.ctx, alice))
	_, err = resolver.Resolve(s.ctx, session.AccessToken)
	requireKind(s.T(), err, core.ErrUnauthorized, auth.CredentialsErrorDetail)
}

func (s *ServicesTestSuite) TestAddExpense() {
	alice := s.register("alice")

	e, err := s.expenses.Add(s.ctx, alice, ExpenseInput{Amount: num("50.00"), Category: str("utilities")})
	require.NoError(s.T(), err)
	assert.Positive(s.T(), e.ID)
	assert.Equal(s.T(), alice.ID, e.UserID)
	assert.Equal(s.T(), int64(5000), e.Amount.Cents)
	assert.Equal(s.T(), core.CategoryUtilities, e.Category)
	assert.Equal(s.T(), core.DateOf(fixedNow), e.Date, "date defaults to today")

	stored, err := s.store.Expenses(alice.ID).Get(s.ctx, e.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), e, stored)
	assert.Contains(s.T(), s.events.types(), amqp.EventExpenseCreated)
}

func (s *ServicesTestSuite) TestAddExpense_Validation() {
	alice := s.register("alice")

	tests := []struct {
		name  string
		in    ExpenseInput
		field string
	}{
		{"missing amount", ExpenseInput{Category: str("Health")}, "body.amount"},
		{"zero amount", ExpenseInput{Amount: num("0"), Category: str("Health")}, "body.amount"},
		{"negative amount", ExpenseInput{Amount: num("-3"), Category: str("Health")}, "body.amount"},
		{"unknown category", ExpenseInput{Amount: num("3"), Category: str("Travel")}, "body.category"},
		{"missing category", ExpenseInput{Amount: num("3")}, "body.category"},
		{"long description", ExpenseInput{Amount: num("3"), Category: str("Health"), Description: str(strings.Repeat("x", 201))}, "body.description"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.expenses.Add(s.ctx, alice, tt.in)
			assert.ErrorIs(s.T(), err, core.ErrValidation)
			assert.Contains(s.T(), violationFields(s.T(), err), tt.field)
		})
	}

	list, err := s.expenses.List(s.ctx, alice, ListFilter{})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), list)
}

func (s *ServicesTestSuite) TestUpdateExpense_PartialFields() {
	alice := s.register("alice")
	orig := s.add(alice, "12.50", "groceries", core.NewDate(2025, 6, 1))

	updated, err := s.expenses.Update(s.ctx, alice, orig.ID, ExpenseChanges{Amount: num("20"), Category: str("leisure")})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(2000), updated.Amount.Cents)
	assert.Equal(s.T(), core.CategoryLeisure, updated.Category)
	assert.Equal(s.T(), orig.Date, updated.Date, "omitted fields are kept")
	assert.Equal(s.T(), orig.Description, updated.Description)

	stored, err := s.store.Expenses(alice.ID).Get(s.ctx, orig.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), updated, stored)

	_, err = s.expenses.Update(s.ctx, alice, orig.ID, ExpenseChanges{Category: str("Travel")})
	assert.ErrorIs(s.T(), err, core.ErrValidation)
	_, err = s.expenses.Update(s.ctx, alice, orig.ID, ExpenseChanges{Amount: num("0")})
	assert.ErrorIs(s.T(), err, core.ErrValidation)
	_, err = s.expenses.Update(s.ctx, alice, 0, ExpenseChanges{})
	assert.Equal(s.T(), []string{"path.id"}, violationFields(s.T(), err))
}

func (s *ServicesTestSuite) TestUpdateAndDelete_OwnershipLooksLikeMissing() {
	alice := s.register("alice")
	bob := s.register("bob")
	e := s.add(alice, "5", "health", core.NewDate(2025, 6, 1))

	_, err := s.expenses.Update(s.ctx, bob, e.ID, ExpenseChanges{Amount: num("1")})
	requireKind(s.T(), err, core.ErrNotFound, MsgExpenseMissing)
	_, missingErr := s.expenses.Update(s.ctx, bob, 999, ExpenseChanges{Amount: num("1")})
	assert.Equal(s.T(), err.Error(), missingErr.Error())

	err = s.expenses.Delete(s.ctx, bob, e.ID)
	requireKind(s.T(), err, core.ErrNotFound, MsgExpenseNotDeleted)

	require.NoError(s.T(), s.expenses.Delete(s.ctx, alice, e.ID))
	err = s.expenses.Delete(s.ctx, alice, e.ID)
	requireKind(s.T(), err, core.ErrNotFound, MsgExpenseNotDeleted)
	err = s.expenses.Delete(s.ctx, alice, 0)
	requireKind(s.T(), err, core.ErrNotFound, MsgExpenseNotDeleted)
}

func (s *ServicesTestSuite) TestList_Filters() {
	alice := s.register("alice")
	today := core.DateOf(fixedNow)
	recent := s.add(alice, "1", "health", today.AddDays(-2))
	monthAgo := s.add(alice, "2", "health", today.AddDays(-20))
	old := s.add(alice, "3", "health", today.AddDays(-60))
	ancient := s.add(alice, "4", "health", today.AddDays(-200))

	tests := []struct {
		name   string
		filter ListFilter
		want   []int64
	}{
		{"everything", ListFilter{}, []int64{recent.ID, monthAgo.ID, old.ID, ancient.ID}},
		{"week", ListFilter{Period: "week"}, []int64{recent.ID}},
		{"month upper case", ListFilter{Period: "MONTH"}, []int64{recent.ID, monthAgo.ID}},
		{"three months", ListFilter{Period: "3months"}, []int64{recent.ID, monthAgo.ID, old.ID}},
		{"period beats dates", ListFilter{Period: "week", From: datePtr(today.AddDays(-300))}, []int64{recent.ID}},
		{"from only", ListFilter{From: datePtr(today.AddDays(-60))}, []int64{recent.ID, monthAgo.ID, old.ID}},
		{"to only", ListFilter{To: datePtr(today.AddDays(-60))}, []int64{old.ID, ancient.ID}},
		{"bounded", ListFilter{From: datePtr(today.AddDays(-60)), To: datePtr(today.AddDays(-20))}, []int64{monthAgo.ID, old.ID}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			got, err := s.expenses.List(s.ctx, alice, tt.filter)
			require.NoError(s.T(), err)
			ids := make([]int64, len(got))
			for i, e := range got {
				ids[i] = e.ID
			}
			assert.Equal(s.T(), tt.want, ids)
		})
	}
}

func (s *ServicesTestSuite) TestList_RejectsBadFilters() {
	alice := s.register("alice")

	_, err := s.expenses.List(s.ctx, alice, ListFilter{Period: "year"})
	requireKind(s.T(), err, core.ErrValidation, "Invalid period. Allowed periods are: week, month, 3months")

	_, err = s.expenses.List(s.ctx, alice, ListFilter{From: datePtr(core.NewDate(2025, 6, 2)), To: datePtr(core.NewDate(2025, 6, 1))})
	requireKind(s.T(), err, core.ErrValidation, "from_date cannot be later than to_date.")
}

func (s *ServicesTestSuite) TestExport() {
	alice := s.register("alice")
	s.add(alice, "9.99", "clothing", core.NewDate(2025, 6, 10))

	var buf bytes.Buffer
	require.NoError(s.T(), s.expenses.Export(s.ctx, alice, ListFilter{Period: "month"}, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(s.T(), err)
	defer f.Close()
	rows, err := f.GetRows("Expenses")
	require.NoError(s.T(), err)
	require.Len(s.T(), rows, 2)
	assert.Equal(s.T(), "Clothing", rows[1][1])
}

func (s *ServicesTestSuite) TestPublishFailureDoesNotFailWrites() {
	s.events.err = errors.New("broker down")

	alice := s.register("alice")
	_, err := s.expenses.Add(s.ctx, alice, ExpenseInput{Amount: num("1"), Category: str("Others")})
	assert.NoError(s.T(), err)
}

func datePtr(d core.Date) *core.Date { return &d }

func TestServicesWithoutPublisher(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	v := validation.MustNew()
	accounts := NewAccountService(store, auth.NewBcryptHasher(bcrypt.MinCost), nil, v)
	id, err := accounts.Signup(ctx, signup("alice"))
	require.NoError(t, err)

	expenses := NewExpenseService(store, v)
	e, err := expenses.Add(ctx, core.User{ID: id}, ExpenseInput{Amount: num("3.5"), Category: str("Others")})
	require.NoError(t, err)
	assert.Equal(t, core.DateOf(time.Now()), e.Date)
}
