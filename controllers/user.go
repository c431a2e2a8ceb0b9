package controllers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"my-teddy/middleware"
	"my-teddy/models"
	"my-teddy/storefront"
	"my-teddy/store"
	"my-teddy/utils"
)

// minPasswordLength for new accounts
const minPasswordLength = 8

// UserController handles user-related requests
type UserController struct {
	Users        store.UserStore
	Tokens       *utils.Tokens
	EmailService *utils.EmailService
	Shoppers     *storefront.Registry
	Logger       *zap.Logger
}

// NewUserController creates a new UserController with EmailService
func NewUserController(users store.UserStore, tokens *utils.Tokens, emailService *utils.EmailService, shoppers *storefront.Registry, logger *zap.Logger) *UserController {
	return &UserController{
		Users:        users,
		Tokens:       tokens,
		EmailService: emailService,
		Shoppers:     shoppers,
		Logger:       logger.Named("user_controller"),
	}
}

type messageBody struct {
	Message string `json:"message"`
}

// Register handles user registration
func (uc *UserController) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", "A valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", "Password must be at least 8 characters")
		return
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		uc.Logger.Error("hashing password", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error hashing password")
		return
	}
	token, err := uc.Tokens.IssueVerification(email)
	if err != nil {
		uc.Logger.Error("issuing verification token", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error generating verification token")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	user, err := uc.Users.CreateUser(ctx, models.User{
		Name:              strings.TrimSpace(req.Name),
		Email:             email,
		Password:          hashed,
		Role:              models.RoleUser,
		VerificationToken: token,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			utils.WriteError(w, http.StatusConflict, "duplicate", "User already exists")
			return
		}
		uc.Logger.Error("creating user", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error creating user")
		return
	}

	if err := uc.EmailService.SendVerificationEmail(ctx, user.Email, token); err != nil {
		uc.Logger.Error("sending verification email", zap.String("user_id", user.ID), zap.Error(err))
	}
	utils.WriteJSON(w, http.StatusCreated, messageBody{"User registered successfully. Please check your email to verify your account."})
}

// VerifyEmail handles email verification
func (uc *UserController) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", "Verification token missing")
		return
	}
	if _, err := uc.Tokens.Parse(token, utils.AudienceVerify); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid token")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	user, err := uc.Users.UserByVerificationToken(ctx, token)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid_token", "User not found or already verified")
		return
	}
	if err := uc.Users.MarkVerified(ctx, user.ID); err != nil {
		uc.Logger.Error("marking user verified", zap.String("user_id", user.ID), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error updating user verification status")
		return
	}
	utils.WriteJSON(w, http.StatusOK, messageBody{"Email verified successfully. You can now log in."})
}

// Login handles user authentication and opens the session's shopper
func (uc *UserController) Login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &creds) {
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	user, err := uc.Users.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(creds.Email)))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			uc.Logger.Error("fetching user", zap.Error(err))
		}
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid email or password")
		return
	}
	if !utils.CheckPassword(user.Password, creds.Password) {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid email or password")
		return
	}
	if !user.IsVerified {
		utils.WriteError(w, http.StatusUnauthorized, "unverified", "Email not verified")
		return
	}

	token, claims, err := uc.Tokens.IssueSession(*user)
	if err != nil {
		uc.Logger.Error("issuing session token", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error generating token")
		return
	}
	if _, err := uc.Shoppers.Acquire(claims.SessionID(), user.ID); err != nil {
		uc.Logger.Error("opening shopper", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Could not open session")
		return
	}
	utils.WriteJSON(w, http.StatusOK, struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}{token, *user})
}

// Logout ends the session. Its cart and wishlist mirrors are discarded.
func (uc *UserController) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	uc.Shoppers.End(claims.SessionID(), claims.Expiry())
	w.WriteHeader(http.StatusNoContent)
}
