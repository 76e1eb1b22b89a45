package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// registryServer fakes the registry API with a counting login endpoint.
func registryServer(t *testing.T, logins *atomic.Int32, expiresIn int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["email"] != "edge@example.com" || creds["password"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := logins.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"expires_in":   expiresIn,
		})
	})

	requireAuth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/api/v1/games", requireAuth(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("firebase_game_id") == "known-game" {
				json.NewEncoder(w).Encode([]Game{{ID: "reg-17", CatalogGameID: "known-game"}})
				return
			}
			json.NewEncoder(w).Encode([]Game{})
		case http.MethodPost:
			var g Game
			json.NewDecoder(r.Body).Decode(&g)
			g.ID = "reg-42"
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(g)
		}
	}))

	mux.HandleFunc("/api/v1/teams", requireAuth(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Team{{ID: "t1", Name: "Home"}, {ID: "t2", Name: "Away"}})
	}))

	mux.HandleFunc("/api/v1/videos", requireAuth(func(w http.ResponseWriter, r *http.Request) {
		var v Video
		json.NewDecoder(r.Body).Decode(&v)
		if v.Angle != "LEFT" && v.Angle != "RIGHT" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	return httptest.NewServer(mux)
}

func TestAuthenticateAndCreateGame(t *testing.T) {
	var logins atomic.Int32
	srv := registryServer(t, &logins, 3600)
	defer srv.Close()

	c := NewClient(srv.URL, "edge@example.com", "hunter2")
	id, err := c.CreateGame(context.Background(), Game{CatalogGameID: "new-game"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "reg-42" {
		t.Fatalf("registry id = %q", id)
	}
	if logins.Load() != 1 {
		t.Fatalf("logins = %d, want 1", logins.Load())
	}
}

func TestTokenReusedWhileValid(t *testing.T) {
	var logins atomic.Int32
	srv := registryServer(t, &logins, 3600)
	defer srv.Close()

	c := NewClient(srv.URL, "edge@example.com", "hunter2")
	for i := 0; i < 3; i++ {
		if _, err := c.ListTeams(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if logins.Load() != 1 {
		t.Fatalf("logins = %d, want a single cached login", logins.Load())
	}
}

func TestTokenRefreshedNearExpiry(t *testing.T) {
	var logins atomic.Int32
	srv := registryServer(t, &logins, 3600)
	defer srv.Close()

	c := NewClient(srv.URL, "edge@example.com", "hunter2")
	clock := time.Now()
	c.now = func() time.Time { return clock }

	if _, err := c.ListTeams(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Jump to 30s before expiry, inside the refresh margin.
	clock = clock.Add(3600*time.Second - 30*time.Second)
	if _, err := c.ListTeams(context.Background()); err != nil {
		t.Fatal(err)
	}
	if logins.Load() != 2 {
		t.Fatalf("logins = %d, want refresh within 60s of expiry", logins.Load())
	}
}

func TestGetGameByCatalogID(t *testing.T) {
	var logins atomic.Int32
	srv := registryServer(t, &logins, 3600)
	defer srv.Close()

	c := NewClient(srv.URL, "edge@example.com", "hunter2")

	game, ok, err := c.GetGameByCatalogID(context.Background(), "known-game")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || game.ID != "reg-17" {
		t.Fatalf("game = %+v ok=%v", game, ok)
	}

	_, ok, err = c.GetGameByCatalogID(context.Background(), "unknown-game")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("unknown game reported as found")
	}
}

func TestRegisterVideoRejectsCourtAngles(t *testing.T) {
	var logins atomic.Int32
	srv := registryServer(t, &logins, 3600)
	defer srv.Close()

	c := NewClient(srv.URL, "edge@example.com", "hunter2")
	err := c.RegisterVideo(context.Background(), Video{GameID: "g", Angle: "FL"})
	if err == nil {
		t.Fatal("court angle FL must be translated before registration")
	}
}

func TestRegistryAngle(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"FL", "LEFT", true},
		{"FR", "RIGHT", true},
		{"NL", "", false},
		{"NR", "", false},
		{"UNK", "", false},
	}
	for _, c := range cases {
		got, ok := RegistryAngle(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("RegistryAngle(%s) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
