// Package pipeline sequences a run end to end: ingest the sessions' chapters
// into object storage, discover the games the recording window overlaps, plan
// and submit one encode job per contributing angle, await the fleet, register
// FL/FR deliverables and clean the cameras up.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/uball/court-agent/internal/camera"
	"github.com/uball/court-agent/internal/catalog"
	"github.com/uball/court-agent/internal/clipplan"
	"github.com/uball/court-agent/internal/encode"
	"github.com/uball/court-agent/internal/faults"
	"github.com/uball/court-agent/internal/logging"
	"github.com/uball/court-agent/internal/registry"
	"github.com/uball/court-agent/internal/storage"
	"github.com/uball/court-agent/internal/transfer"
	"github.com/uball/court-agent/internal/workerpool"
)

var log = logging.L("pipeline")

// Progress weights per phase. The gap between 45 and 50 belongs to planning,
// which is too fast to meter.
const (
	progressInit     = 5
	progressIngest   = 40
	progressDiscover = 45
	progressProcess  = 90
	progressAwait    = 95
	progressDone     = 100
)

// defaultJobWait bounds how long the await phase watches one encode job.
const defaultJobWait = 4 * time.Hour

// Catalog is the slice of the catalog adapter the orchestrator drives.
type Catalog interface {
	UpdateSessionState(ctx context.Context, sessionID, state string) error
	SetSessionS3Prefix(ctx context.Context, sessionID, prefix string) error
	AppendProcessedGame(ctx context.Context, sessionID string, game catalog.ProcessedGame) error
	GamesInTimeRange(ctx context.Context, start, end time.Time) ([]catalog.Game, error)
	MarkGameSynced(ctx context.Context, gameID, registryID string) error
}

// CameraFleet resolves interfaces to camera control clients.
type CameraFleet interface {
	ClientFor(ctx context.Context, ifaceName string) (*camera.Client, error)
}

// Transfers moves chapters into object storage and lists what is already
// there.
type Transfers interface {
	TransferChapter(ctx context.Context, cam *camera.Client, ref camera.ChapterRef, key string) (int64, error)
	ListRaw(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// Encoder is the slice of the encode fleet adapter the orchestrator drives.
type Encoder interface {
	Submit(ctx context.Context, req encode.Request) (string, error)
	Wait(ctx context.Context, jobID string, timeout time.Duration) (encode.JobStatus, error)
	VerifyOutput(ctx context.Context, key string) (int64, error)
	DeleteRaw(ctx context.Context, key string) error
}

// Registrar is the slice of the video registry the orchestrator drives.
type Registrar interface {
	GetGameByCatalogID(ctx context.Context, catalogGameID string) (registry.Game, bool, error)
	CreateGame(ctx context.Context, game registry.Game) (string, error)
	RegisterVideo(ctx context.Context, video registry.Video) error
}

// Options is the run-level wiring and policy.
type Options struct {
	JetsonID          string
	Court             string // first segment of deliverable keys
	Bucket            string
	StateDir          string
	DeleteAfterUpload bool
	JobWaitTimeout    time.Duration
	PollWorkers       int

	// SkipEncode makes the run upload-only: chapters land in storage and the
	// catalog is updated, but no encode jobs are submitted.
	SkipEncode bool
}

// Orchestrator runs pipelines. One instance serves the process; each Run gets
// its own tracker and id.
type Orchestrator struct {
	catalog   Catalog
	cameras   CameraFleet
	transfers Transfers
	encoder   Encoder
	registrar Registrar
	opts      Options
}

// NewOrchestrator wires the collaborators together.
func NewOrchestrator(cat Catalog, cams CameraFleet, tr Transfers, enc Encoder, reg Registrar, opts Options) *Orchestrator {
	if opts.JobWaitTimeout <= 0 {
		opts.JobWaitTimeout = defaultJobWait
	}
	if opts.PollWorkers <= 0 {
		opts.PollWorkers = 4
	}
	return &Orchestrator{
		catalog:   cat,
		cameras:   cams,
		transfers: tr,
		encoder:   enc,
		registrar: reg,
		opts:      opts,
	}
}

// ingested carries one session through the run after its chapters are known.
type ingested struct {
	session  catalog.Session
	client   *camera.Client
	started  time.Time
	chapters []camera.ChapterRef
	rawKeys  []string
}

// submittedJob ties an encode job back to its game, angle and session.
type submittedJob struct {
	jobID     string
	gameID    string
	angle     string
	sessionID string
	outputKey string
	game      catalog.Game
}

// Run executes one pipeline over the given sessions and returns the run id
// and final status. A panic inside the run is caught, persisted as failed,
// and returned as a Fatal error.
func (o *Orchestrator) Run(ctx context.Context, sessions []catalog.Session) (runID, status string, err error) {
	runID = uuid.NewString()
	tracker, terr := NewTracker(o.opts.StateDir, runID, o.opts.JetsonID)
	if terr != nil {
		return runID, StatusFailed, terr
	}

	runLog := log.With(logging.KeyRunID, runID)

	defer func() {
		if r := recover(); r != nil {
			err = faults.Newf(faults.Fatal, "pipeline run panicked: %v", r)
			status = StatusFailed
			tracker.Mutate(func(st *RunState) {
				st.Status = StatusFailed
				st.Errors = append(st.Errors, err.Error())
			})
			runLog.Error("pipeline run panicked", logging.KeyError, err)
		}
	}()

	runLog.Info("pipeline run starting", "sessions", len(sessions))
	status = o.run(ctx, runLog, tracker, sessions)

	tracker.Mutate(func(st *RunState) {
		st.Status = status
		st.Progress = progressDone
	})
	runLog.Info("pipeline run finished", "status", status)
	return runID, status, nil
}

func (o *Orchestrator) run(ctx context.Context, runLog *slog.Logger, tracker *Tracker, sessions []catalog.Session) string {
	// Phase 1: normalise.
	usable, recStart, recEnd := o.normalise(runLog, tracker, sessions)
	tracker.Mutate(func(st *RunState) { st.Progress = progressInit })
	if len(usable) == 0 {
		runLog.Info("no usable sessions, nothing to do")
		return StatusCompleted
	}

	// Phase 2: ingest.
	ready := o.ingest(ctx, runLog, tracker, usable)
	tracker.Mutate(func(st *RunState) { st.Progress = progressIngest })
	if len(ready) == 0 {
		runLog.Warn("no session ingested successfully")
		return StatusCompletedWithErrors
	}

	if o.opts.SkipEncode {
		runLog.Info("encode disabled, upload-only run")
		o.cleanup(ctx, runLog, tracker, ready)
		return finalStatus(tracker.Snapshot())
	}

	// Phase 3: discover games.
	games, err := o.catalog.GamesInTimeRange(ctx, recStart, recEnd)
	if err != nil {
		tracker.Mutate(func(st *RunState) {
			st.Errors = append(st.Errors, fmt.Sprintf("game discovery: %v", err))
		})
		runLog.Error("game discovery failed", logging.KeyError, err)
		return StatusCompletedWithErrors
	}
	tracker.Mutate(func(st *RunState) {
		st.Progress = progressDiscover
		st.TotalGames = len(games)
	})
	if len(games) == 0 {
		runLog.Info("no games overlap the recording window",
			"recStart", recStart.Format(time.RFC3339),
			"recEnd", recEnd.Format(time.RFC3339),
		)
		return StatusCompleted
	}

	// Phase 4: plan and submit.
	jobs := o.process(ctx, runLog, tracker, games, ready, recEnd)
	tracker.Mutate(func(st *RunState) { st.Progress = progressProcess })

	// Phase 5: await, register, clean up.
	o.await(ctx, runLog, tracker, jobs)
	tracker.Mutate(func(st *RunState) { st.Progress = progressAwait })

	o.cleanup(ctx, runLog, tracker, ready)

	return finalStatus(tracker.Snapshot())
}

// normalise filters unusable sessions and computes the recording window.
func (o *Orchestrator) normalise(runLog *slog.Logger, tracker *Tracker, sessions []catalog.Session) (usable []ingested, recStart, recEnd time.Time) {
	for _, s := range sessions {
		if !camera.ValidAngle(s.Angle) {
			runLog.Info("session skipped: unmapped angle",
				logging.KeySession, s.SegmentSession, logging.KeyAngle, s.Angle)
			tracker.Mutate(func(st *RunState) { st.SessionsSkipped++ })
			continue
		}

		started, err := catalog.ParseTimestamp(s.StartedAt)
		if err != nil {
			runLog.Warn("session skipped: bad start timestamp",
				logging.KeySession, s.SegmentSession, logging.KeyError, err)
			tracker.Mutate(func(st *RunState) { st.SessionsSkipped++ })
			continue
		}
		ended, err := catalog.ParseTimestamp(s.EndedAt)
		if err != nil {
			runLog.Warn("session skipped: bad end timestamp",
				logging.KeySession, s.SegmentSession, logging.KeyError, err)
			tracker.Mutate(func(st *RunState) { st.SessionsSkipped++ })
			continue
		}

		if recStart.IsZero() || started.Before(recStart) {
			recStart = started
		}
		if ended.After(recEnd) {
			recEnd = ended
		}

		usable = append(usable, ingested{session: s, started: started})
		sess := s
		tracker.Mutate(func(st *RunState) {
			st.SessionUploads[sess.ID] = &SessionUpload{
				SegmentSession: sess.SegmentSession,
				Angle:          sess.Angle,
				Status:         UploadPending,
			}
			st.TotalSessions = len(st.SessionUploads)
		})
	}
	return usable, recStart, recEnd
}

// ingest moves each session's chapters into object storage. Sessions run one
// after another: the cameras are the bottleneck and cannot serve concurrent
// large transfers. One failed session does not abort the run.
func (o *Orchestrator) ingest(ctx context.Context, runLog *slog.Logger, tracker *Tracker, sessions []ingested) []ingested {
	var ready []ingested

	for i := range sessions {
		ing := sessions[i]
		s := ing.session

		if s.S3Prefix != "" {
			// Already ingested by a previous run: the chapters are in object
			// storage, so the camera is not contacted at all. Planning inputs
			// are reconstructed from the stored keys; their durations are
			// unknown there, which the planner's default covers.
			objs, err := o.transfers.ListRaw(ctx, s.S3Prefix)
			if err != nil {
				o.failSession(tracker, runLog, s, fmt.Errorf("raw listing: %w", err))
				continue
			}
			if len(objs) == 0 {
				o.failSession(tracker, runLog, s, fmt.Errorf("no stored chapters under %s", s.S3Prefix))
				continue
			}
			for _, obj := range objs {
				ing.rawKeys = append(ing.rawKeys, obj.Key)
				ing.chapters = append(ing.chapters, camera.ChapterRef{
					Filename: transfer.ChapterFilename(obj.Key),
					Size:     obj.Size,
				})
			}
			tracker.Mutate(func(st *RunState) {
				up := st.SessionUploads[s.ID]
				up.Status = UploadSkipped
				up.S3Prefix = s.S3Prefix
				st.SessionsCompleted++
			})
			ready = append(ready, ing)
			continue
		}

		client, err := o.cameras.ClientFor(ctx, s.Interface)
		if err != nil {
			o.failSession(tracker, runLog, s, fmt.Errorf("camera unreachable: %w", err))
			continue
		}
		ing.client = client

		refs, err := client.ListMedia(ctx)
		if err != nil {
			o.failSession(tracker, runLog, s, fmt.Errorf("media list: %w", err))
			continue
		}
		camera.SortChapters(refs)
		ing.chapters = lastN(refs, s.TotalChapters)
		if len(ing.chapters) == 0 {
			o.failSession(tracker, runLog, s, fmt.Errorf("no chapters on camera for %s", s.SegmentSession))
			continue
		}
		for idx, ref := range ing.chapters {
			ing.rawKeys = append(ing.rawKeys, transfer.RawChapterKey(s.SegmentSession, idx+1, ref.Filename))
		}

		tracker.Mutate(func(st *RunState) {
			st.SessionUploads[s.ID].Status = UploadUploading
		})

		var totalBytes int64
		failed := false
		for idx, ref := range ing.chapters {
			n, err := o.transfers.TransferChapter(ctx, client, ref, ing.rawKeys[idx])
			if err != nil {
				o.failSession(tracker, runLog, s,
					fmt.Errorf("chapter %d (%s): %w", idx+1, ref.Filename, err))
				failed = true
				break
			}
			totalBytes += n
			done := idx + 1
			tracker.Mutate(func(st *RunState) {
				up := st.SessionUploads[s.ID]
				up.Chapters = done
				up.BytesUploaded = totalBytes
			})
		}
		if failed {
			continue
		}

		prefix := transfer.RawChapterPrefix(s.SegmentSession)
		if err := o.catalog.SetSessionS3Prefix(ctx, s.ID, prefix); err != nil {
			o.failSession(tracker, runLog, s, err)
			continue
		}
		if err := o.catalog.UpdateSessionState(ctx, s.ID, catalog.SessionUploaded); err != nil {
			runLog.Warn("session state update failed",
				logging.KeySession, s.SegmentSession, logging.KeyError, err)
		}

		tracker.Mutate(func(st *RunState) {
			up := st.SessionUploads[s.ID]
			up.Status = UploadCompleted
			up.S3Prefix = prefix
			st.SessionsCompleted++
		})
		runLog.Info("session ingested",
			logging.KeySession, s.SegmentSession,
			"chapters", len(ing.chapters),
			"bytes", totalBytes,
		)
		ready = append(ready, ing)
	}

	return ready
}

func (o *Orchestrator) failSession(tracker *Tracker, runLog *slog.Logger, s catalog.Session, err error) {
	runLog.Error("session ingest failed",
		logging.KeySession, s.SegmentSession, logging.KeyError, err)
	tracker.Mutate(func(st *RunState) {
		up := st.SessionUploads[s.ID]
		up.Status = UploadFailed
		up.Error = err.Error()
		st.Errors = append(st.Errors, fmt.Sprintf("session %s: %v", s.SegmentSession, err))
	})
}

// process plans one clip per (game, contributing angle) and submits encode
// jobs. Open games clip at the recording end.
func (o *Orchestrator) process(ctx context.Context, runLog *slog.Logger, tracker *Tracker, games []catalog.Game, ready []ingested, recEnd time.Time) []submittedJob {
	var jobs []submittedJob

	for _, game := range games {
		g := game
		gameStart, err := g.Start()
		if err != nil {
			runLog.Warn("game skipped: bad createdAt", logging.KeyGame, g.ID, logging.KeyError, err)
			continue
		}
		gameEnd, ok, err := g.End()
		if err != nil {
			runLog.Warn("game skipped: bad endedAt", logging.KeyGame, g.ID, logging.KeyError, err)
			continue
		}
		if !ok {
			gameEnd = recEnd
		}

		tracker.Mutate(func(st *RunState) {
			st.Games[g.ID] = &GameState{
				GameNumber: g.GameNumber,
				Status:     "processing",
				Angles:     make(map[string]*AngleJob),
			}
		})

		for _, ing := range ready {
			s := ing.session
			angle := s.Angle

			plan, err := clipplan.Compute(ing.started, gameStart, gameEnd,
				clipplan.ChaptersFromRefs(ing.chapters))
			if err != nil {
				runLog.Warn("no plan for angle",
					logging.KeyGame, g.ID, logging.KeyAngle, angle, logging.KeyError, err)
				tracker.Mutate(func(st *RunState) {
					st.Games[g.ID].Angles[angle] = &AngleJob{Status: AngleFailed, Error: err.Error()}
				})
				continue
			}

			inputURIs := make([]string, len(plan.Chapters))
			for i, ci := range plan.Chapters {
				inputURIs[i] = "s3://" + o.opts.Bucket + "/" + ing.rawKeys[ci]
			}
			outputKey := clipplan.DeliverableKey(o.opts.Court, gameStart, g.ID, angle)

			jobID, err := o.encoder.Submit(ctx, encode.Request{
				GameID:     g.ID,
				Angle:      angle,
				InputURIs:  inputURIs,
				OutputURI:  "s3://" + o.opts.Bucket + "/" + outputKey,
				Offset:     plan.Offset,
				Duration:   plan.Duration,
				InputBytes: plan.TotalBytes,
				SegmentID:  s.SegmentSession,
			})
			if err != nil {
				runLog.Error("encode submit failed",
					logging.KeyGame, g.ID, logging.KeyAngle, angle, logging.KeyError, err)
				tracker.Mutate(func(st *RunState) {
					st.Games[g.ID].Angles[angle] = &AngleJob{Status: AngleFailed, Error: err.Error()}
					st.Errors = append(st.Errors, fmt.Sprintf("game %s angle %s: %v", g.ID, angle, err))
				})
				continue
			}

			tracker.Mutate(func(st *RunState) {
				st.Games[g.ID].Angles[angle] = &AngleJob{
					JobID:     jobID,
					Status:    AngleSubmitted,
					OutputKey: outputKey,
				}
			})
			jobs = append(jobs, submittedJob{
				jobID:     jobID,
				gameID:    g.ID,
				angle:     angle,
				sessionID: s.ID,
				outputKey: outputKey,
				game:      g,
			})
			runLog.Info("encode job submitted",
				logging.KeyGame, g.ID,
				logging.KeyAngle, angle,
				"jobId", jobID,
				"chapters", len(inputURIs),
			)
		}
	}

	return jobs
}

// await watches every submitted job on a bounded poller and registers FL/FR
// deliverables as they succeed.
func (o *Orchestrator) await(ctx context.Context, runLog *slog.Logger, tracker *Tracker, jobs []submittedJob) {
	if len(jobs) == 0 {
		return
	}

	pool := workerpool.New(o.opts.PollWorkers, len(jobs))
	defer pool.Shutdown(context.Background())

	var eg errgroup.Group
	for i := range jobs {
		job := jobs[i]
		eg.Go(func() error {
			done := make(chan struct{})
			if pool.Submit(func() {
				defer close(done)
				o.awaitOne(ctx, runLog, tracker, job)
			}) {
				<-done
			} else {
				o.awaitOne(ctx, runLog, tracker, job)
			}
			return nil
		})
	}
	eg.Wait()

	// Fold per-angle outcomes into per-game status.
	tracker.Mutate(func(st *RunState) {
		st.GamesCompleted = 0
		for _, gs := range st.Games {
			succeeded, failed := 0, 0
			for _, aj := range gs.Angles {
				switch aj.Status {
				case AngleSucceeded, AngleRegistered:
					succeeded++
				case AngleFailed, AngleCorrupted:
					failed++
				}
			}
			switch {
			case succeeded > 0 && failed == 0:
				gs.Status = "completed"
				st.GamesCompleted++
			case succeeded > 0:
				gs.Status = "partial"
				st.GamesCompleted++
			default:
				gs.Status = "failed"
			}
		}
	})
}

func (o *Orchestrator) awaitOne(ctx context.Context, runLog *slog.Logger, tracker *Tracker, job submittedJob) {
	setAngle := func(fn func(*AngleJob)) {
		tracker.Mutate(func(st *RunState) {
			fn(st.Games[job.gameID].Angles[job.angle])
		})
	}

	st, err := o.encoder.Wait(ctx, job.jobID, o.opts.JobWaitTimeout)
	if err != nil {
		setAngle(func(aj *AngleJob) {
			aj.Status = AngleFailed
			aj.Error = err.Error()
		})
		tracker.Mutate(func(rs *RunState) {
			rs.Errors = append(rs.Errors, fmt.Sprintf("job %s: %v", job.jobID, err))
		})
		return
	}

	if st.State != encode.StateSucceeded {
		status := AngleFailed
		if isCorruptedReason(st.Reason) {
			status = AngleCorrupted
		}
		setAngle(func(aj *AngleJob) {
			aj.Status = status
			aj.Error = st.Reason
		})
		tracker.Mutate(func(rs *RunState) {
			rs.Errors = append(rs.Errors,
				fmt.Sprintf("game %s angle %s: job %s %s: %s",
					job.gameID, job.angle, job.jobID, st.State, st.Reason))
		})
		runLog.Error("encode job failed",
			logging.KeyGame, job.gameID,
			logging.KeyAngle, job.angle,
			"jobId", job.jobID,
			"reason", st.Reason,
		)
		return
	}

	size, err := o.encoder.VerifyOutput(ctx, job.outputKey)
	if err != nil {
		setAngle(func(aj *AngleJob) {
			aj.Status = AngleFailed
			aj.Error = err.Error()
		})
		return
	}
	setAngle(func(aj *AngleJob) { aj.Status = AngleSucceeded })

	if err := o.register(ctx, runLog, tracker, job, size); err != nil {
		runLog.Error("deliverable registration failed",
			logging.KeyGame, job.gameID,
			logging.KeyAngle, job.angle,
			logging.KeyError, err,
		)
		tracker.Mutate(func(rs *RunState) {
			rs.Errors = append(rs.Errors,
				fmt.Sprintf("register game %s angle %s: %v", job.gameID, job.angle, err))
		})
	}
}

// register records an FL/FR deliverable in the video registry and links it
// back to the catalog session. NL/NR deliverables stay in storage unlisted.
func (o *Orchestrator) register(ctx context.Context, runLog *slog.Logger, tracker *Tracker, job submittedJob, size int64) error {
	regAngle, renders := registry.RegistryAngle(job.angle)
	if !renders {
		return nil
	}

	// Double-registration guard within the run; across runs the registry's
	// (game_id, angle) uniqueness is the backstop.
	already := false
	tracker.Mutate(func(st *RunState) {
		already = st.Games[job.gameID].Angles[job.angle].Registered
	})
	if already {
		return nil
	}

	regGame, found, err := o.registrar.GetGameByCatalogID(ctx, job.gameID)
	if err != nil {
		return err
	}
	if !found {
		id, err := o.registrar.CreateGame(ctx, registry.Game{
			CatalogGameID: job.gameID,
			ScoreA:        job.game.ScoreA,
			ScoreB:        job.game.ScoreB,
		})
		if err != nil {
			return err
		}
		regGame = registry.Game{ID: id, CatalogGameID: job.gameID}
		if err := o.catalog.MarkGameSynced(ctx, job.gameID, id); err != nil {
			runLog.Warn("mark game synced failed", logging.KeyGame, job.gameID, logging.KeyError, err)
		}
	}

	if err := o.registrar.RegisterVideo(ctx, registry.Video{
		GameID:   regGame.ID,
		S3Key:    job.outputKey,
		Angle:    regAngle,
		Filename: filenameOf(job.outputKey),
		FileSize: size,
	}); err != nil {
		return err
	}

	if err := o.catalog.AppendProcessedGame(ctx, job.sessionID, catalog.ProcessedGame{
		GameID:     job.gameID,
		GameNumber: job.game.GameNumber,
		Filename:   filenameOf(job.outputKey),
		Key:        job.outputKey,
	}); err != nil {
		runLog.Warn("processed-game backlink failed",
			logging.KeySession, job.sessionID, logging.KeyError, err)
	}

	tracker.Mutate(func(st *RunState) {
		aj := st.Games[job.gameID].Angles[job.angle]
		aj.Status = AngleRegistered
		aj.Registered = true
	})
	runLog.Info("deliverable registered",
		logging.KeyGame, job.gameID,
		logging.KeyAngle, job.angle,
		"key", job.outputKey,
	)
	return nil
}

// cleanup bulk-deletes camera media once everything is done, if configured.
func (o *Orchestrator) cleanup(ctx context.Context, runLog *slog.Logger, tracker *Tracker, ready []ingested) {
	if !o.opts.DeleteAfterUpload {
		return
	}

	snap := tracker.Snapshot()
	for _, up := range snap.SessionUploads {
		if up.Status != UploadCompleted && up.Status != UploadSkipped {
			runLog.Info("skipping camera cleanup: not every session ingested")
			return
		}
	}
	for _, gs := range snap.Games {
		for _, aj := range gs.Angles {
			if aj.Status == AngleSubmitted {
				runLog.Info("skipping camera cleanup: encode jobs still pending")
				return
			}
		}
	}

	wiped := make(map[string]bool)
	for _, ing := range ready {
		iface := ing.session.Interface
		if wiped[iface] || ing.client == nil {
			continue
		}
		if err := ing.client.DeleteAllMedia(ctx); err != nil {
			runLog.Warn("camera bulk delete failed",
				logging.KeyCamera, iface, logging.KeyError, err)
			continue
		}
		wiped[iface] = true
		runLog.Info("camera media deleted", logging.KeyCamera, iface)
	}

	// The raw 4K chapters go once every angle of every game reached a
	// terminal success. A failed angle keeps them around for a retry run.
	allOK := len(snap.Games) > 0
	for _, gs := range snap.Games {
		for _, aj := range gs.Angles {
			if aj.Status != AngleSucceeded && aj.Status != AngleRegistered {
				allOK = false
			}
		}
	}
	if !allOK {
		return
	}
	for _, ing := range ready {
		for _, key := range ing.rawKeys {
			if err := o.encoder.DeleteRaw(ctx, key); err != nil {
				runLog.Warn("raw chapter delete failed", "key", key, logging.KeyError, err)
			}
		}
	}
}

// finalStatus folds the run state into the aggregate status: completed only
// when every game produced at least one angle and nothing else went wrong.
func finalStatus(st RunState) string {
	cleanSessions := true
	for _, up := range st.SessionUploads {
		if up.Status == UploadFailed {
			cleanSessions = false
		}
	}

	if len(st.Games) == 0 {
		if cleanSessions && len(st.Errors) == 0 {
			return StatusCompleted
		}
		return StatusCompletedWithErrors
	}

	anySuccess := false
	allClean := cleanSessions && st.SessionsSkipped == 0
	for _, gs := range st.Games {
		switch gs.Status {
		case "completed":
			anySuccess = true
		case "partial":
			anySuccess = true
			allClean = false
		default:
			allClean = false
		}
	}

	switch {
	case anySuccess && allClean && len(st.Errors) == 0:
		return StatusCompleted
	case anySuccess:
		return StatusCompletedWithErrors
	default:
		return StatusFailed
	}
}

// isCorruptedReason spots the encoder's unparseable-container failures, the
// signature of a chapter truncated by power loss.
func isCorruptedReason(reason string) bool {
	lower := strings.ToLower(reason)
	return strings.Contains(lower, "moov atom") || strings.Contains(lower, "invalid data")
}

func lastN(refs []camera.ChapterRef, n int) []camera.ChapterRef {
	if n <= 0 || n >= len(refs) {
		return refs
	}
	return refs[len(refs)-n:]
}

func filenameOf(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}
