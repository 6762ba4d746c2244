package handlers

import (
	"net/http"

	"github.com/deepgram/persona-relay/internal/api/middleware"
	"github.com/deepgram/persona-relay/internal/config"
	"github.com/deepgram/persona-relay/internal/emulator"
	"github.com/deepgram/persona-relay/internal/services"
	"github.com/deepgram/persona-relay/pkg/httpext"
	"github.com/gorilla/mux"
)

func RegisterRoutes(router *mux.Router, services *services.Services) {
	counter := services.GetRateLimitCounter()

	router.HandleFunc("/healthz", HandleHealth).Methods("GET")

	credentialHandler := middleware.RateLimit("session_credential", counter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleSessionCredential(services.GetCredentialService(), w, r)
	}))
	chatHandler := middleware.RateLimit("chat_stream", counter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleChatStream(services.GetRelayService(), w, r)
	}))

	router.Handle("/session-credential", credentialHandler).Methods("POST")
	router.Handle("/chat-stream", chatHandler).Methods("POST")

	// paths used by the original web client
	api := router.PathPrefix("/api").Subrouter()
	api.Handle("/session-token", credentialHandler).Methods("POST")
	api.Handle("/chat-stream", chatHandler).Methods("POST")

	if tokens := services.GetEmulatorTokens(); tokens != nil {
		v1 := router.PathPrefix("/v1").Subrouter()
		v1.Handle("/emulator/ws", emulator.NewHandler(tokens, services.GetConnections(), config.GetEmulatorReadyDelay())).Methods("GET")
	}
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpext.JsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
