package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Download holds the chapter transfer tuning knobs. The defaults match what
// the camera HTTP endpoint tolerates on the USB-Ethernet link.
type Download struct {
	ChunkSizeBytes        int `mapstructure:"chunk_size_bytes"`
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int `mapstructure:"read_timeout_seconds"`
	MaxRetries            int `mapstructure:"max_retries"`
	KeepAliveSeconds      int `mapstructure:"keep_alive_seconds"`
}

func (d Download) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutSeconds) * time.Second
}

func (d Download) ReadTimeout() time.Duration {
	return time.Duration(d.ReadTimeoutSeconds) * time.Second
}

func (d Download) KeepAliveInterval() time.Duration {
	return time.Duration(d.KeepAliveSeconds) * time.Second
}

type Config struct {
	JetsonID string `mapstructure:"jetson_id"`

	UploadEnabled     bool   `mapstructure:"upload_enabled"`
	UploadBucket      string `mapstructure:"upload_bucket"`
	UploadRegion      string `mapstructure:"upload_region"`
	UploadLocation    string `mapstructure:"upload_location"` // court tag, first segment of deliverable keys
	DeleteAfterUpload bool   `mapstructure:"delete_after_upload"`

	AWSBatchJobQueue             string `mapstructure:"aws_batch_job_queue"`
	AWSBatchJobQueueLarge        string `mapstructure:"aws_batch_job_queue_large"`
	AWSBatchJobDefinition        string `mapstructure:"aws_batch_job_definition"`
	AWSBatchJobDefinitionExtract string `mapstructure:"aws_batch_job_definition_extract"`
	AWSBatchRegion               string `mapstructure:"aws_batch_region"`
	UseAWSGPUTranscode           bool   `mapstructure:"use_aws_gpu_transcode"`

	// Static AWS credentials for devices without an instance profile. Left
	// empty, the SDK's default chain applies.
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key"`

	// CameraAngleMap is a JSON object mapping advertised camera names to one
	// of FL, FR, NL, NR.
	CameraAngleMap string `mapstructure:"camera_angle_map"`

	UballBackendURL   string `mapstructure:"uball_backend_url"`
	UballAuthEmail    string `mapstructure:"uball_auth_email"`
	UballAuthPassword string `mapstructure:"uball_auth_password"`

	CatalogCredentials string `mapstructure:"catalog_credentials"` // service account JSON path
	CatalogProject     string `mapstructure:"catalog_project"`

	// RecorderCommand is the argv template for the external capture tool. A
	// literal {camera} is replaced with the camera's address.
	RecorderCommand []string `mapstructure:"recorder_command"`

	LogPath          string `mapstructure:"log_path"`
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
	ScratchDir       string `mapstructure:"scratch_dir"`
	PipelineStateDir string `mapstructure:"pipeline_state_dir"`

	Download Download `mapstructure:"download"`
}

func Default() *Config {
	return &Config{
		LogPath:            "/var/log/court-agent/agent.log",
		LogLevel:           "info",
		LogFormat:          "text",
		ScratchDir:         "/tmp/court-agent",
		PipelineStateDir:   "/tmp/pipeline_states",
		UploadEnabled:      true,
		UseAWSGPUTranscode: true,
		RecorderCommand:    []string{"gopro-record", "--address", "{camera}"},
		Download: Download{
			ChunkSizeBytes:        256 * 1024,
			ConnectTimeoutSeconds: 10,
			ReadTimeoutSeconds:    60,
			MaxRetries:            20,
			KeepAliveSeconds:      30,
		},
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("agent")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/court-agent")
		viper.AddConfigPath(".")
	}

	// Environment variables use the flat upper-case names the fleet has
	// always used (UPLOAD_BUCKET, AWS_BATCH_JOB_QUEUE, UBALL_BACKEND_URL...),
	// so bind without a prefix.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RecorderArgv expands the recorder command template for a camera address.
func (c *Config) RecorderArgv(cameraAddr string) []string {
	out := make([]string, len(c.RecorderCommand))
	for i, arg := range c.RecorderCommand {
		out[i] = strings.ReplaceAll(arg, "{camera}", cameraAddr)
	}
	return out
}

// AngleMap parses the camera-name → angle dictionary. An empty setting is a
// valid empty map; every session from an unmapped camera ends up UNK and is
// filtered by the pipeline.
func (c *Config) AngleMap() (map[string]string, error) {
	if strings.TrimSpace(c.CameraAngleMap) == "" {
		return map[string]string{}, nil
	}

	m := make(map[string]string)
	if err := json.Unmarshal([]byte(c.CameraAngleMap), &m); err != nil {
		return nil, fmt.Errorf("camera_angle_map is not a JSON object: %w", err)
	}
	return m, nil
}
