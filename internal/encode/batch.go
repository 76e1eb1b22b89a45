// Package encode submits extract-and-transcode jobs to the remote GPU fleet
// via AWS Batch and polls them to a terminal state. The edge device never
// encodes; it only sequences.
package encode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"

	"github.com/uball/court-agent/internal/clipplan"
	"github.com/uball/court-agent/internal/faults"
	"github.com/uball/court-agent/internal/logging"
)

var log = logging.L("encode")

// largeQueueThreshold routes big inputs to the queue whose workers carry the
// storage to hold them.
const largeQueueThreshold = int64(14) << 30

// defaultPollInterval is how often Wait asks Batch for job status.
const defaultPollInterval = 30 * time.Second

// JobState is the adapter's view of a Batch job.
type JobState string

const (
	StateSubmitted JobState = "SUBMITTED"
	StateRunning   JobState = "RUNNING"
	StateSucceeded JobState = "SUCCEEDED"
	StateFailed    JobState = "FAILED"
	StateNotFound  JobState = "NOT_FOUND"
)

// Terminal reports whether a job state will never change again.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateNotFound
}

// JobStatus is a point-in-time description of a job.
type JobStatus struct {
	State     JobState
	Reason    string
	CreatedAt time.Time
	StartedAt time.Time
	StoppedAt time.Time
	ExitCode  *int32
}

// Request describes one extract-and-transcode submission.
type Request struct {
	GameID     string
	Angle      string
	InputURIs  []string // raw chapter s3:// URIs in chapter order
	OutputURI  string   // deliverable s3:// URI
	Offset     time.Duration
	Duration   time.Duration
	InputBytes int64
	SegmentID  string
}

// batchAPI is the slice of the Batch client the adapter uses; tests swap in a
// fake.
type batchAPI interface {
	SubmitJob(ctx context.Context, in *batch.SubmitJobInput, opts ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
	DescribeJobs(ctx context.Context, in *batch.DescribeJobsInput, opts ...func(*batch.Options)) (*batch.DescribeJobsOutput, error)
}

// objectHead verifies a deliverable landed; satisfied by storage.Store.
type objectHead interface {
	Head(ctx context.Context, key string) (int64, bool, error)
	Delete(ctx context.Context, key string) error
}

// Fleet is the encode-job adapter.
type Fleet struct {
	api   batchAPI
	store objectHead

	queueSmall   string
	queueLarge   string
	definition   string
	defExtract   string
	pollInterval time.Duration
	now          func() time.Time
}

// Config carries the Batch wiring (queue and definition names, region).
type Config struct {
	Region        string
	QueueSmall    string
	QueueLarge    string
	JobDefinition string
	ExtractJobDef string
}

// New builds a Fleet against the real Batch API in the configured region.
func New(ctx context.Context, cfg Config, store objectHead, opts ...func(*awsconfig.LoadOptions) error) (*Fleet, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, append([]func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newFleet(batch.NewFromConfig(awsCfg), store, cfg), nil
}

func newFleet(api batchAPI, store objectHead, cfg Config) *Fleet {
	return &Fleet{
		api:          api,
		store:        store,
		queueSmall:   cfg.QueueSmall,
		queueLarge:   cfg.QueueLarge,
		definition:   cfg.JobDefinition,
		defExtract:   cfg.ExtractJobDef,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
}

// selectQueue picks small or large. Multi-chapter extracts always go large:
// the worker has to hold every chapter at once regardless of each one's size.
func (f *Fleet) selectQueue(inputBytes int64, multiChapter bool) string {
	if multiChapter || inputBytes >= largeQueueThreshold {
		return f.queueLarge
	}
	return f.queueSmall
}

// Submit sends exactly one job and returns its id.
func (f *Fleet) Submit(ctx context.Context, req Request) (string, error) {
	if len(req.InputURIs) == 0 {
		return "", faults.Newf(faults.Incoherent, "submit without input chapters for game %s", req.GameID)
	}

	multiChapter := len(req.InputURIs) > 1
	queue := f.selectQueue(req.InputBytes, multiChapter)

	definition := f.definition
	if multiChapter {
		definition = f.defExtract
	}

	env := []types.KeyValuePair{
		{Name: aws.String("INPUT_S3_URI"), Value: aws.String(req.InputURIs[0])},
		{Name: aws.String("OUTPUT_S3_URI"), Value: aws.String(req.OutputURI)},
		{Name: aws.String("OFFSET_SECONDS"), Value: aws.String(strconv.Itoa(int(req.Offset / time.Second)))},
		{Name: aws.String("DURATION_SECONDS"), Value: aws.String(strconv.Itoa(int(req.Duration / time.Second)))},
		{Name: aws.String("ADD_BUFFER_SECONDS"), Value: aws.String(strconv.Itoa(int(clipplan.Buffer / time.Second)))},
		{Name: aws.String("GAME_ID"), Value: aws.String(req.GameID)},
		{Name: aws.String("ANGLE"), Value: aws.String(req.Angle)},
	}
	if multiChapter {
		chaptersJSON, err := json.Marshal(req.InputURIs)
		if err != nil {
			return "", fmt.Errorf("marshal chapter list: %w", err)
		}
		env = append(env, types.KeyValuePair{
			Name:  aws.String("CHAPTERS_JSON"),
			Value: aws.String(string(chaptersJSON)),
		})
	}

	name := jobName(req.GameID, req.Angle, f.now())
	out, err := f.api.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:       aws.String(name),
		JobQueue:      aws.String(queue),
		JobDefinition: aws.String(definition),
		ContainerOverrides: &types.ContainerOverrides{
			Environment: env,
		},
		Tags: map[string]string{
			"game":    req.GameID,
			"angle":   req.Angle,
			"segment": req.SegmentID,
		},
	})
	if err != nil {
		return "", faults.New(faults.Transient, fmt.Errorf("submit job %s: %w", name, err))
	}

	jobID := aws.ToString(out.JobId)
	log.Info("encode job submitted",
		"jobId", jobID,
		"jobName", name,
		"queue", queue,
		"chapters", len(req.InputURIs),
		"inputBytes", req.InputBytes,
	)
	return jobID, nil
}

// Status describes one job, mapped into the adapter's state set.
func (f *Fleet) Status(ctx context.Context, jobID string) (JobStatus, error) {
	out, err := f.api.DescribeJobs(ctx, &batch.DescribeJobsInput{Jobs: []string{jobID}})
	if err != nil {
		return JobStatus{}, faults.New(faults.Transient, fmt.Errorf("describe job %s: %w", jobID, err))
	}
	if len(out.Jobs) == 0 {
		return JobStatus{State: StateNotFound}, nil
	}

	job := out.Jobs[0]
	st := JobStatus{
		State:  mapJobStatus(job.Status),
		Reason: aws.ToString(job.StatusReason),
	}
	if job.CreatedAt != nil {
		st.CreatedAt = time.UnixMilli(*job.CreatedAt)
	}
	if job.StartedAt != nil {
		st.StartedAt = time.UnixMilli(*job.StartedAt)
	}
	if job.StoppedAt != nil {
		st.StoppedAt = time.UnixMilli(*job.StoppedAt)
	}
	if job.Container != nil {
		st.ExitCode = job.Container.ExitCode
		if st.Reason == "" {
			st.Reason = aws.ToString(job.Container.Reason)
		}
	}
	return st, nil
}

// Wait polls a job until it reaches a terminal state or the timeout passes.
// It never resubmits a FAILED job; retry policy belongs to the orchestrator.
func (f *Fleet) Wait(ctx context.Context, jobID string, timeout time.Duration) (JobStatus, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		st, err := f.Status(ctx, jobID)
		if err == nil && st.State.Terminal() {
			return st, nil
		}
		if err != nil {
			log.Warn("job status poll failed, will retry", "jobId", jobID, "error", err)
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return JobStatus{}, fmt.Errorf("job %s not terminal after %s", jobID, timeout)
		case <-ctx.Done():
			return JobStatus{}, ctx.Err()
		}
	}
}

// VerifyOutput confirms the deliverable exists at its key after SUCCEEDED and
// returns its size.
func (f *Fleet) VerifyOutput(ctx context.Context, key string) (int64, error) {
	size, exists, err := f.store.Head(ctx, key)
	if err != nil {
		return 0, faults.New(faults.Transient, fmt.Errorf("head deliverable %s: %w", key, err))
	}
	if !exists {
		return 0, faults.Newf(faults.Corrupted, "job reported success but %s does not exist", key)
	}
	return size, nil
}

// DeleteRaw removes a raw 4K chapter object once its deliverables are safe.
func (f *Fleet) DeleteRaw(ctx context.Context, key string) error {
	return f.store.Delete(ctx, key)
}

// mapJobStatus folds Batch's seven states into the adapter's five. Everything
// pre-RUNNING is SUBMITTED.
func mapJobStatus(s types.JobStatus) JobState {
	switch s {
	case types.JobStatusSucceeded:
		return StateSucceeded
	case types.JobStatusFailed:
		return StateFailed
	case types.JobStatusRunning:
		return StateRunning
	default:
		return StateSubmitted
	}
}

// jobName builds a unique, timestamped, Batch-legal job name.
func jobName(gameID, angle string, at time.Time) string {
	return fmt.Sprintf("encode_%s_%s_%s", clipplan.GameFolder(gameID), angle, at.UTC().Format("20060102T150405"))
}
