package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-otp-accounts/internal/application/auth"
	"github.com/go-otp-accounts/internal/domain"
	"github.com/go-otp-accounts/internal/pkg/validate"
	"github.com/go-otp-accounts/internal/transport/http/middleware"
)

const (
	msgRegistered     = "Registration successful. Please verify your email with the OTP sent."
	msgVerified       = "Account verified successfully"
	msgLoggedIn       = "Login successful"
	msgResent         = "OTP resent successfully"
	msgInvalidLogin   = "Invalid email or password"
	msgAlreadyByEmail = "Email already registered and verified. Please login."
)

var (
	registerErrors = []errorCase{
		{domain.ErrAlreadyVerified, http.StatusConflict, msgAlreadyByEmail},
	}
	verifyErrors = []errorCase{
		{domain.ErrNoChallenge, http.StatusBadRequest, "Invalid request"},
		{domain.ErrExpired, http.StatusGone, "OTP has expired. Please request a new one."},
		{domain.ErrTooManyAttempts, http.StatusTooManyRequests, "Too many failed attempts. Please request a new OTP."},
		{domain.ErrInvalidCode, http.StatusBadRequest, "Invalid OTP"},
	}
	// Unknown email and wrong password are deliberately indistinguishable.
	loginErrors = []errorCase{
		{domain.ErrNotFound, http.StatusUnauthorized, msgInvalidLogin},
		{domain.ErrBadCredential, http.StatusUnauthorized, msgInvalidLogin},
		{domain.ErrUnverified, http.StatusForbidden, "Email not verified. Please verify your account."},
	}
	resendErrors = []errorCase{
		{domain.ErrNotFound, http.StatusNotFound, "User not found"},
		{domain.ErrAlreadyVerified, http.StatusConflict, "User already verified"},
	}
	meErrors = []errorCase{
		{domain.ErrNotFound, http.StatusNotFound, "User not found"},
	}
)

// AuthHandler serves the registration, verification and login endpoints.
type AuthHandler struct {
	svc auth.Service
}

func NewAuthHandler(svc auth.Service) *AuthHandler { return &AuthHandler{svc: svc} }

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if _, err := h.svc.Register(r.Context(), req); err != nil {
		httpError(w, r, err, registerErrors...)
		return
	}
	writeJSON(w, http.StatusCreated, MessageEnvelope{Message: msgRegistered})
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyOTPRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	sess, err := h.svc.VerifyOTP(r.Context(), req)
	if err != nil {
		httpError(w, r, err, verifyErrors...)
		return
	}
	writeJSON(w, http.StatusOK, TokenEnvelope{AccessToken: sess.AccessToken, TokenType: sess.TokenType, Message: msgVerified})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	sess, err := h.svc.Login(r.Context(), req)
	if err != nil {
		httpError(w, r, err, loginErrors...)
		return
	}
	writeJSON(w, http.StatusOK, TokenEnvelope{AccessToken: sess.AccessToken, TokenType: sess.TokenType, Message: msgLoggedIn})
}

func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.ResendOTPRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.ResendOTP(r.Context(), req); err != nil {
		httpError(w, r, err, resendErrors...)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: msgResent})
}

// Me returns the account behind the bearer token. It must run behind middleware.Auth.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	acct, err := h.svc.Me(r.Context(), claims.Email)
	if err != nil {
		httpError(w, r, err, meErrors...)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}
