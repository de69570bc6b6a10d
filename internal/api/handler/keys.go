package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix  = "gq_"
	keyPrefixLen  = 8
	keySecretSize = 24
)

// GenerateAPIKey returns a new raw key and its lookup prefix.
func GenerateAPIKey() (raw, prefix string, err error) {
	buf := make([]byte, keySecretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	raw = apiKeyPrefix + hex.EncodeToString(buf)
	return raw, raw[:keyPrefixLen], nil
}

// NewAPIKey builds the stored record for raw. Only the bcrypt hash is kept.
func NewAPIKey(tenantID uuid.UUID, name, raw string, scopes []string) (*models.APIKey, error) {
	if len(raw) < keyPrefixLen {
		return nil, fmt.Errorf("api key must be at least %d characters", keyPrefixLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	if scopes == nil {
		scopes = []string{}
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:keyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// BootstrapStore is what EnsureAPIKey needs from storage.
type BootstrapStore interface {
	KeyStore
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
}

// EnsureAPIKey installs raw as a key of tenantID unless an identical key
// already exists. It reports whether a key was created.
func EnsureAPIKey(ctx context.Context, s BootstrapStore, tenantID uuid.UUID, name, raw string, scopes []string) (bool, error) {
	if len(raw) < keyPrefixLen {
		return false, fmt.Errorf("api key must be at least %d characters", keyPrefixLen)
	}
	existing, err := s.GetAPIKeyByPrefix(ctx, raw[:keyPrefixLen])
	if err != nil {
		return false, fmt.Errorf("look up api key: %w", err)
	}
	for _, k := range existing {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil {
			return false, nil
		}
	}

	key, err := NewAPIKey(tenantID, name, raw, scopes)
	if err != nil {
		return false, err
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return false, fmt.Errorf("create api key: %w", err)
	}
	return true, nil
}

type createKeyRequest struct {
	Name   string   `json:"name" example:"ci-runner"`
	Scopes []string `json:"scopes"`
}

type keyResponse struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key,omitempty"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func newKeyResponse(k *models.APIKey) keyResponse {
	return keyResponse{
		ID:         k.ID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		Scopes:     k.Scopes,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// NewCreateKeyHandler returns the handler for POST /api/v1/admin/keys. The
// raw key is only ever returned here.
//
// @Summary Create an API key
// @Tags admin
// @Accept json
// @Produce json
// @Param request body createKeyRequest true "key name and scopes"
// @Success 201 {object} keyResponse
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/keys [post]
func NewCreateKeyHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}

		var req createKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			badRequest(w, "name is required")
			return
		}

		raw, _, err := GenerateAPIKey()
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		key, err := NewAPIKey(tenantID, req.Name, raw, req.Scopes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "API key with this name already exists", nil)
				return
			}
			writeServiceError(w, r, err)
			return
		}

		resp := newKeyResponse(key)
		resp.Key = raw
		response.Created(w, resp)
	}
}

// NewListKeysHandler returns the handler for GET /api/v1/admin/keys.
//
// @Summary List API keys
// @Tags admin
// @Produce json
// @Success 200 {array} keyResponse
// @Security BearerAuth
// @Router /admin/keys [get]
func NewListKeysHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}

		list, err := keys.ListAPIKeys(r.Context(), tenantID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		out := make([]keyResponse, 0, len(list))
		for _, k := range list {
			out = append(out, newKeyResponse(k))
		}
		response.JSON(w, out)
	}
}

// NewRevokeKeyHandler returns the handler for DELETE /api/v1/admin/keys/{keyID}.
//
// @Summary Revoke an API key
// @Tags admin
// @Param keyID path string true "key id (uuid)"
// @Success 204
// @Failure 404 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/keys/{keyID} [delete]
func NewRevokeKeyHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}

		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_KEY_ID", "Invalid key ID", nil)
			return
		}

		if err := keys.RevokeAPIKey(r.Context(), keyID, tenantID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
				return
			}
			writeServiceError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}
