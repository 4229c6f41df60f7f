package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/baobao/baobao-user/internal/middleware"
	"github.com/baobao/baobao-user/internal/models"
	"github.com/baobao/baobao-user/internal/service"
	"github.com/sirupsen/logrus"
)

var phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

// EventRecorder counts authentication outcomes.
type EventRecorder interface {
	RecordAuthEvent(event, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordAuthEvent(string, string) {}

type AuthHandlers struct {
	authService *service.AuthService
	events      EventRecorder
	logger      *logrus.Logger
}

func NewAuthHandlers(authService *service.AuthService, events EventRecorder, logger *logrus.Logger) *AuthHandlers {
	if events == nil {
		events = noopRecorder{}
	}
	return &AuthHandlers{
		authService: authService,
		events:      events,
		logger:      logger,
	}
}

type SendCodeRequest struct {
	Phone string `json:"phone"`
}

type LoginRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ProfileResponse struct {
	ID       string `json:"id"`
	Phone    string `json:"phone,omitempty"`
	Nickname string `json:"nickname"`
	DueDate  string `json:"dueDate"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AuthHandlers) SendCode(w http.ResponseWriter, r *http.Request) {
	var req SendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	phone := strings.TrimSpace(req.Phone)
	if !phonePattern.MatchString(phone) {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number format")
		return
	}

	if err := h.authService.SendCode(r.Context(), phone); err != nil {
		if errors.Is(err, service.ErrRateLimited) {
			h.events.RecordAuthEvent("send_code", "rate_limited")
			h.respondWithError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Code requested too frequently, please try again later")
			return
		}
		h.events.RecordAuthEvent("send_code", "error")
		h.logger.WithError(err).Error("Failed to send code")
		h.respondWithError(w, http.StatusInternalServerError, "SEND_CODE_FAILED", "Failed to send verification code")
		return
	}

	h.events.RecordAuthEvent("send_code", "ok")
	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Verification code sent"})
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	phone := strings.TrimSpace(req.Phone)
	code := strings.TrimSpace(req.Code)

	if !phonePattern.MatchString(phone) {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number format")
		return
	}

	if utf8.RuneCountInString(code) != 6 {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_CODE_FORMAT", "Verification code must be 6 characters")
		return
	}

	result, err := h.authService.Login(r.Context(), phone, code)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) {
			h.events.RecordAuthEvent("login", "invalid_code")
			h.respondWithError(w, http.StatusUnauthorized, "INVALID_CODE", "Verification code is wrong or expired")
			return
		}
		h.events.RecordAuthEvent("login", "error")
		h.logger.WithError(err).Error("Failed to log in")
		h.respondWithError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to log in")
		return
	}

	if result.User.IsNewUser {
		h.events.RecordAuthEvent("login", "registered")
	} else {
		h.events.RecordAuthEvent("login", "ok")
	}
	h.respondWithJSON(w, http.StatusOK, result)
}

// Logout succeeds whether or not the caller had a session.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if userID, ok := middleware.UserID(r.Context()); ok {
		if err := h.authService.Logout(r.Context(), userID); err != nil {
			h.logger.WithError(err).Error("Failed to log out")
			h.respondWithError(w, http.StatusInternalServerError, "LOGOUT_FAILED", "Failed to log out")
			return
		}
		h.events.RecordAuthEvent("logout", "ok")
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	user, err := h.authService.Profile(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err, "Failed to load profile")
		return
	}

	h.respondWithJSON(w, http.StatusOK, ProfileResponse{
		ID:       user.ID,
		Phone:    user.Phone,
		Nickname: user.Nickname,
		DueDate:  user.DueDateString(),
	})
}

func (h *AuthHandlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	var req models.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	user, err := h.authService.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, err, "Failed to update profile")
		return
	}

	h.respondWithJSON(w, http.StatusOK, ProfileResponse{
		ID:       user.ID,
		Nickname: user.Nickname,
		DueDate:  user.DueDateString(),
	})
}

func (h *AuthHandlers) respondServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
	case errors.Is(err, service.ErrInvalidInput):
		h.respondWithError(w, http.StatusBadRequest, "INVALID_INPUT", strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": "))
	default:
		h.logger.WithError(err).Error(message)
		h.respondWithError(w, http.StatusInternalServerError, "INTERNAL", message)
	}
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
