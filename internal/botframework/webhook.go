// ABOUTME: HTTP webhook ingress for Bot Framework activities
// ABOUTME: Verifies the bearer token, runs the turn and writes the turn's HTTP response

package botframework

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/auth"
	"github.com/2389/coven-botkit/internal/transport"
)

// maxBodySize bounds inbound activity payloads.
const maxBodySize = 1 << 20

// Logic is the bot's turn handler, normally Controller.ProcessTurn.
type Logic func(ctx context.Context, turn *transport.TurnContext) error

// ProcessActivity runs act through the inbound middleware and then logic,
// returning the turn so callers can read what it left in turn state.
func (a *Adapter) ProcessActivity(ctx context.Context, act *activity.Activity, logic Logic) (*transport.TurnContext, error) {
	if act == nil {
		return nil, errors.New("process activity: no activity")
	}
	turn := a.CreateTurnContext(act)
	if err := a.inbound.Run(ctx, turn, act); err != nil {
		return turn, err
	}
	if logic == nil {
		return turn, nil
	}
	return turn, logic(ctx, turn)
}

// Handler returns the webhook endpoint for logic. When a JWT secret is
// configured every request must carry a valid bearer token, and a token
// pinned to a serviceUrl only admits activities for that serviceUrl.
func (a *Adapter) Handler(logic Logic) http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		var act activity.Activity
		if err := json.NewDecoder(r.Body).Decode(&act); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid activity")
			return
		}

		if claims := auth.FromContext(r.Context()); claims != nil && claims.ServiceURL != "" &&
			!sameServiceURL(claims.ServiceURL, act.ServiceURL) {
			a.logger.Warn("serviceUrl does not match token", "token", claims.ServiceURL, "activity", act.ServiceURL)
			writeJSONError(w, http.StatusUnauthorized, "serviceUrl mismatch")
			return
		}

		turn, err := a.ProcessActivity(r.Context(), &act, logic)
		if err != nil {
			a.logger.Error("turn failed", "error", err, "activity_id", act.ID, "type", act.Type)
			writeJSONError(w, http.StatusInternalServerError, "turn failed")
			return
		}
		writeTurnResponse(w, turn)
	})
	return auth.RequireBearer(a.verifier, a.logger)(h)
}

func sameServiceURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

// writeTurnResponse writes httpStatus (default 200) and httpBody from turn
// state. A string body is sent as text and anything else as JSON.
func writeTurnResponse(w http.ResponseWriter, turn *transport.TurnContext) {
	status := http.StatusOK
	if v, ok := turn.TurnState.Get(transport.KeyHTTPStatus); ok {
		if s, ok := v.(int); ok && s > 0 {
			status = s
		}
	}

	body, ok := turn.TurnState.Get(transport.KeyHTTPBody)
	if !ok || body == nil {
		w.WriteHeader(status)
		return
	}

	if s, ok := body.(string); ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(s))
		return
	}

	data, err := json.Marshal(body)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "encoding response body")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
