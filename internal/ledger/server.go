package ledger

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// Server handles HTTP requests for the basket, the ledger and imports
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Grocery Tracker"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/basket", s.requireAuth(s.handleGetBasket))
	s.mux.HandleFunc("DELETE /api/basket", s.requireAuth(s.handleClearBasket))
	s.mux.HandleFunc("POST /api/basket/items", s.requireAuth(s.handleAddItem))
	s.mux.HandleFunc("PUT /api/basket/items/{id}", s.requireAuth(s.handleUpdateItem))
	s.mux.HandleFunc("POST /api/basket/items/{id}/quantity", s.requireAuth(s.handleAdjustQuantity))
	s.mux.HandleFunc("DELETE /api/basket/items/{id}", s.requireAuth(s.handleRemoveItem))
	s.mux.HandleFunc("POST /api/basket/commit", s.requireAuth(s.handleCommit))
	s.mux.HandleFunc("GET /api/basket/candidates", s.requireAuth(s.handleListCandidates))
	s.mux.HandleFunc("POST /api/basket/candidates", s.requireAuth(s.handleAcceptCandidates))
	s.mux.HandleFunc("DELETE /api/basket/candidates", s.requireAuth(s.handleDiscardCandidates))

	s.mux.HandleFunc("GET /api/purchases/{id}", s.requireAuth(s.handleGetPurchase))
	s.mux.HandleFunc("DELETE /api/purchases/{id}", s.requireAuth(s.handleDeletePurchase))
	s.mux.HandleFunc("POST /api/purchases/{id}/edit", s.requireAuth(s.handleEditPurchase))
	s.mux.HandleFunc("GET /api/purchases", s.requireAuth(s.handleListPurchases))
	s.mux.HandleFunc("GET /api/history", s.requireAuth(s.handleHistory))

	s.mux.HandleFunc("POST /api/import/url", s.requireAuth(s.handleImportURL))
	s.mux.HandleFunc("POST /api/import/text", s.requireAuth(s.handleImportText))
	s.mux.HandleFunc("POST /api/import/photo", s.requireAuth(s.handleImportPhoto))

	s.mux.HandleFunc("GET /api/categories", s.requireAuth(s.handleCategories))
	s.mux.HandleFunc("GET /api/suggest", s.requireAuth(s.handleSuggest))

	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
}

// Handler returns the routes wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
