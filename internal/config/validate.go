package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

var validAngles = map[string]bool{
	"FL": true,
	"FR": true,
	"NL": true,
	"NR": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values are clamped to safe defaults. Other validation errors
// are logged as warnings but do not prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.UploadEnabled && c.UploadBucket == "" {
		errs = append(errs, fmt.Errorf("upload_enabled is set but upload_bucket is empty"))
	}

	if c.UballBackendURL != "" {
		u, err := url.Parse(c.UballBackendURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("uball_backend_url %q is not a valid URL: %w", c.UballBackendURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("uball_backend_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if c.UseAWSGPUTranscode {
		if c.AWSBatchJobQueue == "" {
			errs = append(errs, fmt.Errorf("use_aws_gpu_transcode is set but aws_batch_job_queue is empty"))
		}
		if c.AWSBatchJobDefinition == "" {
			errs = append(errs, fmt.Errorf("use_aws_gpu_transcode is set but aws_batch_job_definition is empty"))
		}
	}

	if m, err := c.AngleMap(); err != nil {
		errs = append(errs, err)
	} else {
		for name, angle := range m {
			if !validAngles[angle] {
				errs = append(errs, fmt.Errorf("camera_angle_map entry %q maps to unknown angle %q", name, angle))
			}
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	// Clamp transfer tuning to sane ranges. A zero chunk size would spin the
	// download loop; a zero read timeout would never detect a stall.
	if c.Download.ChunkSizeBytes < 4*1024 {
		errs = append(errs, fmt.Errorf("download.chunk_size_bytes %d is below minimum 4096, clamping", c.Download.ChunkSizeBytes))
		c.Download.ChunkSizeBytes = 4 * 1024
	}
	if c.Download.ConnectTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("download.connect_timeout_seconds %d is below minimum 1, clamping", c.Download.ConnectTimeoutSeconds))
		c.Download.ConnectTimeoutSeconds = 1
	}
	if c.Download.ReadTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("download.read_timeout_seconds %d is below minimum 1, clamping", c.Download.ReadTimeoutSeconds))
		c.Download.ReadTimeoutSeconds = 1
	}
	if c.Download.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("download.max_retries %d is below minimum 1, clamping", c.Download.MaxRetries))
		c.Download.MaxRetries = 1
	}
	if c.Download.KeepAliveSeconds < 5 || c.Download.KeepAliveSeconds > 30 {
		// The camera sleeps after ~60s without a ping; above 30s there is no
		// margin for a missed tick.
		errs = append(errs, fmt.Errorf("download.keep_alive_seconds %d outside [5,30], clamping", c.Download.KeepAliveSeconds))
		c.Download.KeepAliveSeconds = 30
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
