// Package registry is the token-authenticated REST client for the external
// video registry, where finished FL/FR deliverables are recorded.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/uball/court-agent/internal/camera"
	"github.com/uball/court-agent/internal/faults"
	"github.com/uball/court-agent/internal/httputil"
	"github.com/uball/court-agent/internal/logging"
)

var log = logging.L("registry")

// refreshMargin re-authenticates before the token actually lapses so no
// in-flight call races the expiry.
const refreshMargin = 60 * time.Second

// Client talks to the registry API. Token acquisition and refresh are
// internal; callers just make calls.
type Client struct {
	baseURL  string
	email    string
	password string

	httpClient *http.Client
	retry      httputil.RetryConfig
	now        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewClient builds a registry client. No network traffic happens until the
// first call needs a token.
func NewClient(baseURL, email, password string) *Client {
	return &Client{
		baseURL:    baseURL,
		email:      email,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      httputil.DefaultRetryConfig(),
		now:        time.Now,
	}
}

// Game is a registry game record.
type Game struct {
	ID            string `json:"id"`
	CatalogGameID string `json:"firebase_game_id"`
	TeamAID       string `json:"team_a_id,omitempty"`
	TeamBID       string `json:"team_b_id,omitempty"`
	ScoreA        int    `json:"score_a"`
	ScoreB        int    `json:"score_b"`
	PlayedAt      string `json:"played_at,omitempty"`
}

// Team is a registry team record.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Video is a deliverable registration.
type Video struct {
	GameID   string `json:"game_id"`
	S3Key    string `json:"s3_key"`
	Angle    string `json:"angle"` // LEFT or RIGHT
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
}

// RegistryAngle translates a court angle into the registry's vocabulary.
// Only the far pair is rendered, so only FL and FR translate.
func RegistryAngle(angle string) (string, bool) {
	switch angle {
	case camera.AngleFL:
		return "LEFT", true
	case camera.AngleFR:
		return "RIGHT", true
	}
	return "", false
}

type loginResponse struct {
	Token     string `json:"access_token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// authenticate logs in and caches the token. Callers hold c.mu.
func (c *Client) authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return err
	}

	resp, err := httputil.Do(ctx, c.httpClient, http.MethodPost,
		c.baseURL+"/api/v1/auth/login", body,
		http.Header{"Content-Type": []string{"application/json"}}, c.retry)
	if err != nil {
		return faults.New(faults.Transient, fmt.Errorf("registry login: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return faults.Newf(faults.Catalog, "registry login rejected: %s", resp.Status)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}

	c.token = lr.Token
	c.expiry = c.now().Add(time.Duration(lr.ExpiresIn) * time.Second)
	log.Info("registry authenticated", "expiresIn", lr.ExpiresIn)
	return nil
}

// bearer returns a valid token, re-authenticating when the cached one is
// missing or within refreshMargin of expiry.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || c.now().Add(refreshMargin).After(c.expiry) {
		if err := c.authenticate(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

// call performs an authenticated request and decodes a JSON response into
// out (which may be nil).
func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	var body []byte
	headers := http.Header{"Authorization": []string{"Bearer " + token}}
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
		headers.Set("Content-Type", "application/json")
	}

	resp, err := httputil.Do(ctx, c.httpClient, method, c.baseURL+path, body, headers, c.retry)
	if err != nil {
		return faults.New(faults.Transient, fmt.Errorf("registry %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return faults.Newf(faults.Catalog, "registry %s %s: %s: %s", method, path, resp.Status, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode registry response: %w", err)
		}
	}
	return nil
}

// CreateGame registers a game and returns its registry id.
func (c *Client) CreateGame(ctx context.Context, game Game) (string, error) {
	var created Game
	if err := c.call(ctx, http.MethodPost, "/api/v1/games", game, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// GetGameByCatalogID looks up the registry game created for a catalog game.
// ok is false when the registry has never seen it.
func (c *Client) GetGameByCatalogID(ctx context.Context, catalogGameID string) (Game, bool, error) {
	var games []Game
	err := c.call(ctx, http.MethodGet,
		"/api/v1/games?firebase_game_id="+catalogGameID, nil, &games)
	if err != nil {
		return Game{}, false, err
	}
	if len(games) == 0 {
		return Game{}, false, nil
	}
	return games[0], true, nil
}

// ListTeams returns every registry team.
func (c *Client) ListTeams(ctx context.Context) ([]Team, error) {
	var teams []Team
	if err := c.call(ctx, http.MethodGet, "/api/v1/teams", nil, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// RegisterVideo records a deliverable against a registry game. The angle must
// already be in registry vocabulary (LEFT/RIGHT).
func (c *Client) RegisterVideo(ctx context.Context, video Video) error {
	if video.Angle != "LEFT" && video.Angle != "RIGHT" {
		return faults.Newf(faults.Incoherent, "registry angle %q is not LEFT or RIGHT", video.Angle)
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/videos", video, nil); err != nil {
		return err
	}
	log.Info("deliverable registered",
		"gameId", video.GameID,
		"angle", video.Angle,
		"key", video.S3Key,
	)
	return nil
}
