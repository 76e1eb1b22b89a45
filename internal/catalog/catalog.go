// Package catalog adapts the external Firestore document database holding
// recording sessions and basketball games. All timestamps cross this boundary
// as UTC ISO-8601 strings with a trailing Z; local-time strings are rejected.
package catalog

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/uball/court-agent/internal/faults"
	"github.com/uball/court-agent/internal/logging"
)

var log = logging.L("catalog")

const (
	sessionsCollection = "recording-sessions"
	gamesCollection    = "basketball-games"
)

// Session state values as stored in the catalog.
const (
	SessionRecording  = "recording"
	SessionStopped    = "stopped"
	SessionProcessing = "processing"
	SessionUploaded   = "uploaded"
)

// Session mirrors a recording-sessions document.
type Session struct {
	ID             string          `firestore:"-"`
	DeviceID       string          `firestore:"deviceId"`
	Angle          string          `firestore:"angleCode"`
	Interface      string          `firestore:"interfaceId"`
	SegmentSession string          `firestore:"segmentSession"`
	State          string          `firestore:"status"`
	StartedAt      string          `firestore:"createdAt"`
	EndedAt        string          `firestore:"endedAt,omitempty"`
	TotalChapters  int             `firestore:"totalChapters"`
	TotalBytes     int64           `firestore:"totalBytes"`
	S3Prefix       string          `firestore:"s3Prefix,omitempty"`
	ProcessedGames []ProcessedGame `firestore:"processedGames,omitempty"`
}

// ProcessedGame is a back-pointer from a session to a deliverable.
type ProcessedGame struct {
	GameID     string `firestore:"gameId"`
	GameNumber int    `firestore:"gameNumber"`
	Filename   string `firestore:"filename"`
	Key        string `firestore:"s3Key"`
}

// Game mirrors a basketball-games document.
type Game struct {
	ID         string `firestore:"-"`
	CreatedAt  string `firestore:"createdAt"`
	EndedAt    string `firestore:"endedAt,omitempty"`
	TeamA      string `firestore:"teamA"`
	TeamB      string `firestore:"teamB"`
	ScoreA     int    `firestore:"scoreA"`
	ScoreB     int    `firestore:"scoreB"`
	GameNumber int    `firestore:"gameNumber"`
	RegistryID string `firestore:"registryId,omitempty"`
	Synced     bool   `firestore:"synced"`
}

// Start parses the game's createdAt.
func (g *Game) Start() (time.Time, error) {
	return ParseTimestamp(g.CreatedAt)
}

// End parses the game's endedAt. ok is false for an unended (open) game.
func (g *Game) End() (t time.Time, ok bool, err error) {
	if g.EndedAt == "" {
		return time.Time{}, false, nil
	}
	t, err = ParseTimestamp(g.EndedAt)
	return t, err == nil, err
}

// Store is the Firestore-backed catalog adapter.
type Store struct {
	client *firestore.Client
}

// New connects to the catalog project using a service-account credentials
// file. An empty credentialsPath falls back to ambient credentials.
func New(ctx context.Context, project, credentialsPath string) (*Store, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	client, err := firestore.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, faults.New(faults.Catalog, fmt.Errorf("connect firestore: %w", err))
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// CreateSession writes the initial document: state recording, no end.
func (s *Store) CreateSession(ctx context.Context, deviceID, angle, segmentSession, interfaceID string) (string, error) {
	doc := Session{
		DeviceID:       deviceID,
		Angle:          angle,
		Interface:      interfaceID,
		SegmentSession: segmentSession,
		State:          SessionRecording,
		StartedAt:      FormatTimestamp(time.Now()),
	}

	ref, _, err := s.client.Collection(sessionsCollection).Add(ctx, doc)
	if err != nil {
		return "", faults.New(faults.Catalog, fmt.Errorf("create session: %w", err))
	}
	log.Info("session created", "sessionId", ref.ID, "segmentSession", segmentSession, "angle", angle)
	return ref.ID, nil
}

// FinalizeSession transitions a session to stopped with its end timestamp and
// chapter totals.
func (s *Store) FinalizeSession(ctx context.Context, sessionID string, endedAt time.Time, totalChapters int, totalBytes int64) error {
	_, err := s.client.Collection(sessionsCollection).Doc(sessionID).Update(ctx, []firestore.Update{
		{Path: "status", Value: SessionStopped},
		{Path: "endedAt", Value: FormatTimestamp(endedAt)},
		{Path: "totalChapters", Value: totalChapters},
		{Path: "totalBytes", Value: totalBytes},
	})
	if err != nil {
		return faults.New(faults.Catalog, fmt.Errorf("finalize session %s: %w", sessionID, err))
	}
	return nil
}

// UpdateSessionState sets the session lifecycle state.
func (s *Store) UpdateSessionState(ctx context.Context, sessionID, state string) error {
	_, err := s.client.Collection(sessionsCollection).Doc(sessionID).Update(ctx, []firestore.Update{
		{Path: "status", Value: state},
	})
	if err != nil {
		return faults.New(faults.Catalog, fmt.Errorf("update session %s state: %w", sessionID, err))
	}
	return nil
}

// SetSessionS3Prefix records where the session's raw chapters landed. The
// prefix is written at most once; a second call with a prefix already present
// is a no-op.
func (s *Store) SetSessionS3Prefix(ctx context.Context, sessionID, prefix string) error {
	ref := s.client.Collection(sessionsCollection).Doc(sessionID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc Session
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.S3Prefix != "" {
			log.Info("s3Prefix already set, leaving as-is", "sessionId", sessionID, "existing", doc.S3Prefix)
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "s3Prefix", Value: prefix},
		})
	})
	if err != nil {
		return faults.New(faults.Catalog, fmt.Errorf("set s3Prefix on %s: %w", sessionID, err))
	}
	return nil
}

// AppendProcessedGame attaches a deliverable back-pointer to a session with
// array-union semantics, so a re-run never duplicates an entry.
func (s *Store) AppendProcessedGame(ctx context.Context, sessionID string, game ProcessedGame) error {
	_, err := s.client.Collection(sessionsCollection).Doc(sessionID).Update(ctx, []firestore.Update{
		{Path: "processedGames", Value: firestore.ArrayUnion(game)},
	})
	if err != nil {
		return faults.New(faults.Catalog, fmt.Errorf("append processed game to %s: %w", sessionID, err))
	}
	return nil
}

// PendingUpload lists a device's sessions that have stopped with chapters but
// have not been ingested yet.
func (s *Store) PendingUpload(ctx context.Context, deviceID string) ([]Session, error) {
	// s3Prefix absence cannot be queried server-side alongside these
	// predicates, so it is filtered client-side.
	iter := s.client.Collection(sessionsCollection).
		Where("deviceId", "==", deviceID).
		Where("status", "==", SessionStopped).
		Where("totalChapters", ">", 0).
		Documents(ctx)
	defer iter.Stop()

	var out []Session
	for {
		snap, err := iter.Next()
		if err != nil {
			if isIteratorDone(err) {
				break
			}
			return nil, faults.New(faults.Catalog, fmt.Errorf("pending upload query: %w", err))
		}
		var doc Session
		if err := snap.DataTo(&doc); err != nil {
			return nil, faults.New(faults.Catalog, fmt.Errorf("decode session %s: %w", snap.Ref.ID, err))
		}
		if doc.S3Prefix != "" {
			continue
		}
		doc.ID = snap.Ref.ID
		out = append(out, doc)
	}
	return out, nil
}

// GamesInTimeRange lists games overlapping [start, end]: createdAt ≤ end and
// either endedAt ≥ start or the game is still open.
func (s *Store) GamesInTimeRange(ctx context.Context, start, end time.Time) ([]Game, error) {
	iter := s.client.Collection(gamesCollection).
		Where("createdAt", "<=", FormatTimestamp(end)).
		Documents(ctx)
	defer iter.Stop()

	var out []Game
	for {
		snap, err := iter.Next()
		if err != nil {
			if isIteratorDone(err) {
				break
			}
			return nil, faults.New(faults.Catalog, fmt.Errorf("games query: %w", err))
		}
		var doc Game
		if err := snap.DataTo(&doc); err != nil {
			return nil, faults.New(faults.Catalog, fmt.Errorf("decode game %s: %w", snap.Ref.ID, err))
		}
		doc.ID = snap.Ref.ID

		overlaps, err := GameOverlaps(&doc, start)
		if err != nil {
			log.Warn("game has unparseable timestamps, skipping", "gameId", doc.ID, "error", err)
			continue
		}
		if overlaps {
			out = append(out, doc)
		}
	}
	return out, nil
}

// MarkGameSynced records the registry id assigned to a game.
func (s *Store) MarkGameSynced(ctx context.Context, gameID, registryID string) error {
	_, err := s.client.Collection(gamesCollection).Doc(gameID).Update(ctx, []firestore.Update{
		{Path: "registryId", Value: registryID},
		{Path: "synced", Value: true},
	})
	if err != nil {
		return faults.New(faults.Catalog, fmt.Errorf("mark game %s synced: %w", gameID, err))
	}
	return nil
}

// GameOverlaps reports whether a game (already known to satisfy
// createdAt ≤ end) reaches back to the recording start: endedAt ≥ start, with
// an unended game treated as open-ended.
func GameOverlaps(g *Game, recStart time.Time) (bool, error) {
	endedAt, ok, err := g.End()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return !endedAt.Before(recStart), nil
}

func isIteratorDone(err error) bool {
	return err == iterator.Done
}
