package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gameroom-service/internal/app"
	"gameroom-service/internal/domain"
	"gameroom-service/internal/infra/memory"
	"github.com/jonboulle/clockwork"
)

func newAPIServer(t *testing.T) (*httptest.Server, *memory.AnalyticsStore) {
	t.Helper()
	rooms := app.NewRoomManager(app.NewBankEvaluator(memory.NewQuestionRepository(memory.NewStaticBankLoader(sampleBanks()), 0)),
		app.WithClock(clockwork.NewFakeClock()))
	store := memory.NewAnalyticsStore()
	hub := NewHub(nil)
	go hub.Run()
	server := httptest.NewServer(NewRouter(NewRoomAPI(rooms, store, nil), NewWSHandler(rooms, hub, DefaultHandlerConfig(), nil), nil))
	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})
	return server, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateRoomAppliesDefaults(t *testing.T) {
	server, _ := newAPIServer(t)

	resp := postJSON(t, server.URL+"/rooms", map[string]any{
		"name":     "Friday quiz",
		"gameType": "quiz_battle",
		"subject":  "math",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var room domain.GameRoom
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		t.Fatalf("decode: %v", err)
	}
	cfg := room.Config
	if cfg.ID == "" || cfg.MaxPlayers != domain.DefaultMaxPlayers || cfg.TotalQuestions != domain.DefaultTotalQuestions || cfg.Language != "es" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if room.Status != domain.RoomWaiting {
		t.Fatalf("status = %s", room.Status)
	}

	get := doRequest(t, http.MethodGet, server.URL+"/rooms/"+cfg.ID)
	if get.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", get.StatusCode)
	}

	list := doRequest(t, http.MethodGet, server.URL+"/rooms")
	var summaries []domain.RoomSummary
	if err := json.NewDecoder(list.Body).Decode(&summaries); err != nil || len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d (%v)", len(summaries), err)
	}
}

func TestCreateRoomRejectsInvalidConfig(t *testing.T) {
	server, _ := newAPIServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"too many players", map[string]any{"name": "x", "gameType": "quiz_battle", "subject": "math", "maxPlayers": 50}, http.StatusBadRequest},
		{"unknown game type", map[string]any{"name": "x", "gameType": "trivia", "subject": "math"}, http.StatusBadRequest},
		{"missing name", map[string]any{"gameType": "quiz_battle", "subject": "math"}, http.StatusBadRequest},
		{"not json", "[", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := postJSON(t, server.URL+"/rooms", tt.body); resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCreateRoomConflict(t *testing.T) {
	server, _ := newAPIServer(t)
	body := map[string]any{"id": "r1", "name": "x", "gameType": "speed_round", "subject": "math"}
	if resp := postJSON(t, server.URL+"/rooms", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create = %d", resp.StatusCode)
	}
	if resp := postJSON(t, server.URL+"/rooms", body); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second create = %d, want 409", resp.StatusCode)
	}
}

func TestRoomNotFoundAndCancel(t *testing.T) {
	server, _ := newAPIServer(t)

	if resp := doRequest(t, http.MethodGet, server.URL+"/rooms/nope"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get missing = %d", resp.StatusCode)
	}
	if resp := doRequest(t, http.MethodDelete, server.URL+"/rooms/nope"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete missing = %d", resp.StatusCode)
	}

	postJSON(t, server.URL+"/rooms", map[string]any{"id": "r1", "name": "x", "gameType": "speed_round", "subject": "math"})
	if resp := doRequest(t, http.MethodDelete, server.URL+"/rooms/r1"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", resp.StatusCode)
	}
	if resp := doRequest(t, http.MethodGet, server.URL+"/rooms/r1"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancelled room still served: %d", resp.StatusCode)
	}
}

func TestGetAnalytics(t *testing.T) {
	server, store := newAPIServer(t)

	if resp := doRequest(t, http.MethodGet, server.URL+"/rooms/r1/analytics"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing analytics = %d", resp.StatusCode)
	}

	if err := store.SaveAnalytics(context.Background(), domain.GameAnalytics{RoomID: "r1", QuestionsAsked: 3}); err != nil {
		t.Fatalf("save: %v", err)
	}
	resp := doRequest(t, http.MethodGet, server.URL+"/rooms/r1/analytics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analytics = %d", resp.StatusCode)
	}
	var got domain.GameAnalytics
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil || got.QuestionsAsked != 3 {
		t.Fatalf("unexpected analytics %+v (%v)", got, err)
	}
}

func TestHealthz(t *testing.T) {
	server, _ := newAPIServer(t)
	if resp := doRequest(t, http.MethodGet, server.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
}
