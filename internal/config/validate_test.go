package config

import "testing"

func TestValidateDefaults(t *testing.T) {
	cfg := Default()
	cfg.UploadBucket = "court-recordings"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config should validate, got %v", errs)
	}
}

func TestValidateUploadRequiresBucket(t *testing.T) {
	cfg := Default()
	cfg.UploadBucket = ""
	if errs := cfg.Validate(); len(errs) == 0 {
		t.Fatal("upload_enabled without bucket should be flagged")
	}
}

func TestValidateClampsDownloadTuning(t *testing.T) {
	cfg := Default()
	cfg.UploadBucket = "b"
	cfg.Download.ChunkSizeBytes = 0
	cfg.Download.KeepAliveSeconds = 90

	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 validation errors, got %d: %v", len(errs), errs)
	}
	if cfg.Download.ChunkSizeBytes != 4*1024 {
		t.Errorf("chunk size not clamped: %d", cfg.Download.ChunkSizeBytes)
	}
	if cfg.Download.KeepAliveSeconds != 30 {
		t.Errorf("keep-alive not clamped: %d", cfg.Download.KeepAliveSeconds)
	}
}

func TestValidateAngleMap(t *testing.T) {
	cfg := Default()
	cfg.UploadBucket = "b"
	cfg.CameraAngleMap = `{"GoPro FarLeft": "FL", "GoPro Mystery": "XX"}`
	if errs := cfg.Validate(); len(errs) != 1 {
		t.Fatalf("expected 1 error for unknown angle, got %v", errs)
	}

	cfg.CameraAngleMap = `not json`
	if errs := cfg.Validate(); len(errs) != 1 {
		t.Fatalf("expected 1 error for bad JSON, got %v", errs)
	}
}

func TestAngleMapEmpty(t *testing.T) {
	cfg := Default()
	m, err := cfg.AngleMap()
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 0 {
		t.Fatalf("empty setting should give empty map, got %v", m)
	}
}
