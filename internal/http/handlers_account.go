package http

import (
	"fmt"
	"net/http"

	"expenses/internal/log"
	"expenses/internal/services"
)

type signupResponse struct {
	Detail string `json:"detail"`
	ID     int64  `json:"id"`
}

type usernameResponse struct {
	Msg      string `json:"msg"`
	Username string `json:"username"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in services.SignupInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, log.OpSignup, err)
		return
	}

	id, err := s.accounts.Signup(r.Context(), in)
	if err != nil {
		s.writeError(w, r, log.OpSignup, err)
		return
	}

	writeJSON(w, http.StatusCreated, signupResponse{
		Detail: fmt.Sprintf("User '%s' successfully registered", in.Username),
		ID:     id,
	})
}

// handleLogin exchanges form credentials for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username, password, err := parseLoginForm(r)
	if err != nil {
		s.writeError(w, r, log.OpLogin, err)
		return
	}

	session, err := s.accounts.Login(r.Context(), username, password)
	if err != nil {
		s.writeError(w, r, log.OpLogin, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleUpdateUsername(w http.ResponseWriter, r *http.Request) {
	var in services.UsernameInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}

	username, err := s.accounts.UpdateUsername(r.Context(), actingUser(r), in)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, usernameResponse{Msg: "Username updated successfully.", Username: username})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	user := actingUser(r)
	if err := s.accounts.DeleteAccount(r.Context(), user); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}

	log.FromContext(r.Context()).WithComponent(log.ComponentAccount).InfoContext(r.Context(), "Account deleted",
		log.NewFields().WithUser(user.ID, user.Username).WithOperation(log.OpDelete).ToSlice()...)
	w.WriteHeader(http.StatusNoContent)
}
