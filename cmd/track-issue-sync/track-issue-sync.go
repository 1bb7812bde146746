package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	_ "github.com/rendertools/track-issue-sync/internal/remote/jira"
	_ "github.com/rendertools/track-issue-sync/internal/remote/shotgrid"

	"github.com/rendertools/track-issue-sync/internal/bridge"
	engine "github.com/rendertools/track-issue-sync/internal/sync"
	"github.com/rendertools/track-issue-sync/pkg/interop"
	"github.com/spf13/viper"
)

type webhookEvent struct {
	EntityType    string                 `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	Change        string                 `json:"change"`
	ChangedFields []string               `json:"changed_fields"`
	Actor         *engine.Actor          `json:"actor"`
	Payload       map[string]interface{} `json:"payload"`
}

type webhookResponse struct {
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

func main() {
	i, err := interop.NewInteroperability()
	if err != nil {
		fmt.Printf("failed to create interop: %s\n", err)
		os.Exit(1)
	}

	defer i.Shutdown()

	b, err := bridge.New(i)
	if err != nil {
		fmt.Printf("failed to create bridge: %s\n", err)
		os.Exit(2)
	}

	if err := b.Setup(context.Background()); err != nil {
		fmt.Printf("bridge setup failed: %s\n", err)
		os.Exit(3)
	}

	i.Logger.Infof("serving channels: %s", strings.Join(b.Channels(), ", "))

	mux := http.NewServeMux()
	mux.HandleFunc("/source/", handleWebhook(i, b, engine.OriginSource))
	mux.HandleFunc("/target/", handleWebhook(i, b, engine.OriginTarget))

	addr := viper.GetString("server.addr")
	if addr == "" {
		addr = ":9090"
	}

	i.Logger.Infof("listening on %s", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Printf("server failed: %s\n", err)
		os.Exit(4)
	}
}

func handleWebhook(
	i *interop.Interop,
	b *bridge.Bridge,
	origin engine.Origin,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Path is /source/<channel> or /target/<channel>.
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 || parts[1] == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}

		var payload webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "bad payload: "+err.Error(), http.StatusBadRequest)
			return
		}

		event := &engine.Event{
			Origin:        origin,
			Channel:       parts[1],
			EntityType:    payload.EntityType,
			EntityID:      payload.EntityID,
			Change:        engine.ChangeType(payload.Change),
			ChangedFields: payload.ChangedFields,
			Actor:         payload.Actor,
			Payload:       payload.Payload,
		}

		result, err := b.Dispatch(r.Context(), event)
		if err == nil {
			err = result.Err
		}

		writeResponse(w, result, err)
	}
}

// writeResponse maps engine errors to HTTP statuses. Dropped events are a
// success with applied=false; only remote write failures signal the caller
// to retry.
func writeResponse(w http.ResponseWriter, result engine.ProcessResult, err error) {
	status := http.StatusOK

	var cfgErr *engine.ConfigurationError
	var writeErr *engine.RemoteWriteError

	switch {
	case err == nil:
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
	case errors.As(err, &writeErr):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := webhookResponse{Applied: result.Applied}
	if err != nil {
		resp.Error = err.Error()
	}

	_ = json.NewEncoder(w).Encode(resp)
}
