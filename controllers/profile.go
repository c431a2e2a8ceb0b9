package controllers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"my-teddy/middleware"
	"my-teddy/models"
	"my-teddy/store"
	"my-teddy/utils"
)

const (
	maxNameLength   = 100
	maxAvatarSize   = 5 << 20
	avatarURLPrefix = "/uploads"
)

var avatarTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// ProfileController handles the account profile
type ProfileController struct {
	Users     store.UserStore
	Profiles  store.ProfileStore
	UploadDir string
	Logger    *zap.Logger
}

// NewProfileController creates a new ProfileController storing avatars
// under uploadDir.
func NewProfileController(users store.UserStore, profiles store.ProfileStore, uploadDir string, logger *zap.Logger) *ProfileController {
	return &ProfileController{Users: users, Profiles: profiles, UploadDir: uploadDir, Logger: logger.Named("profile_controller")}
}

type profileBody struct {
	User    models.User     `json:"user"`
	Profile *models.Profile `json:"profile"`
}

// GetProfile returns the account and its profile. A missing profile is null.
func (pc *ProfileController) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	user, err := pc.Users.UserByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.WriteError(w, http.StatusNotFound, "not_found", "User not found")
			return
		}
		pc.Logger.Error("fetching user", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error fetching user")
		return
	}
	profile, err := pc.Profiles.GetProfile(ctx, user.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		pc.Logger.Error("fetching profile", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error fetching profile")
		return
	}
	utils.WriteJSON(w, http.StatusOK, profileBody{User: *user, Profile: profile})
}

// optional trims v and turns an empty value into nil
func optional(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

// UpdateProfile replaces the editable profile fields
func (pc *ProfileController) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	var in models.Profile
	if !decode(w, r, &in) {
		return
	}
	name := optional(in.Name)
	switch {
	case name == nil:
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", "Name is required")
		return
	case utf8.RuneCountInString(*name) > maxNameLength:
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", "Name must be 100 characters or fewer")
		return
	}

	p := models.Profile{
		Owner:        claims.UserID(),
		Name:         name,
		Phone:        optional(in.Phone),
		AddressLine1: optional(in.AddressLine1),
		AddressLine2: optional(in.AddressLine2),
		City:         optional(in.City),
		State:        optional(in.State),
		PostalCode:   optional(in.PostalCode),
		Country:      optional(in.Country),
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := pc.Profiles.UpsertProfile(ctx, p); err != nil {
		pc.Logger.Error("saving profile", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to update profile")
		return
	}
	saved, err := pc.Profiles.GetProfile(ctx, p.Owner)
	if err != nil {
		pc.Logger.Error("fetching profile", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error fetching profile")
		return
	}
	utils.WriteJSON(w, http.StatusOK, saved)
}

// UploadAvatar stores the multipart "avatar" image, replacing any previous
// one, and records its URL on the profile.
func (pc *ProfileController) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	owner := claims.UserID()

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarSize+1<<20)
	if err := r.ParseMultipartForm(maxAvatarSize); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", "Failed to parse multipart form")
		return
	}
	file, _, err := r.FormFile("avatar")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", "Failed to retrieve file")
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", "Failed to read file")
		return
	}
	ext, ok := avatarTypes[http.DetectContentType(head[:n])]
	if !ok {
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", "Avatar must be a PNG, JPEG, GIF or WebP image")
		return
	}

	url, err := pc.saveAvatar(owner, ext, io.MultiReader(bytes.NewReader(head[:n]), file))
	if err != nil {
		pc.Logger.Error("saving avatar", zap.String("owner", owner), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to save file")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	if err := pc.Profiles.SetAvatar(ctx, owner, url); err != nil {
		pc.Logger.Error("recording avatar", zap.String("owner", owner), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to update profile")
		return
	}
	utils.WriteJSON(w, http.StatusOK, struct {
		AvatarURL string `json:"avatar_url"`
	}{url})
}

// saveAvatar writes <upload>/avatars/<owner>/avatar.<ext>, removing avatars
// with other extensions.
func (pc *ProfileController) saveAvatar(owner, ext string, src io.Reader) (string, error) {
	if owner == "" || strings.ContainsAny(owner, `/\`) || owner == "." || owner == ".." {
		return "", fmt.Errorf("invalid owner %q", owner)
	}
	dir := filepath.Join(pc.UploadDir, "avatars", owner)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}
	old, _ := filepath.Glob(filepath.Join(dir, "avatar.*"))
	for _, f := range old {
		_ = os.Remove(f)
	}

	name := "avatar." + ext
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("closing file: %w", err)
	}
	return path.Join(avatarURLPrefix, "avatars", owner, name), nil
}
