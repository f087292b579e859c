package auth

import (
	"net/http"

	"Postwing/internal/api/handlers"
	"Postwing/internal/config"
)

// ClientMetadata is the OAuth 2.0 client metadata document (RFC 7591)
// served at /oauth/client-metadata.json. The authorization server fetches
// it from the client_id URL.
type ClientMetadata struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name"`
	ClientURI               string   `json:"client_uri"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ApplicationType         string   `json:"application_type"`
	DpopBoundAccessTokens   bool     `json:"dpop_bound_access_tokens"`
	RequirePKCE             bool     `json:"require_pkce"`
}

// MetadataHandler serves the public client metadata.
type MetadataHandler struct {
	cfg *config.Config
}

// NewMetadataHandler creates a new metadata handler.
func NewMetadataHandler(cfg *config.Config) *MetadataHandler {
	return &MetadataHandler{cfg: cfg}
}

// HandleClientMetadata serves the OAuth client metadata document.
// GET /oauth/client-metadata.json
func (h *MetadataHandler) HandleClientMetadata(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, ClientMetadata{
		ClientID:                h.cfg.ClientID,
		ClientName:              "Postwing",
		ClientURI:               h.cfg.PublicURL,
		RedirectURIs:            []string{h.cfg.RedirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		Scope:                   h.cfg.Scope,
		TokenEndpointAuthMethod: "none",
		ApplicationType:         "web",
		DpopBoundAccessTokens:   true,
		RequirePKCE:             true,
	})
}
