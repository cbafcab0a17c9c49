package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("ANPR_DATABASE_DRIVER", "memory")
	t.Setenv("ANPR_VIDEO_FRAME_SKIP", "3")
	t.Setenv("ANPR_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Database.Driver, test.ShouldEqual, "memory")
	test.That(t, cfg.Video.FrameSkip, test.ShouldEqual, 3)
	test.That(t, cfg.Auth.JWTSecret, test.ShouldEqual, "s3cret")
	test.That(t, cfg.Video.Codecs, test.ShouldResemble, []string{"avc1", "H264", "X264", "mp4v", "XVID", "MJPG"})
	test.That(t, cfg.Status.Retries, test.ShouldEqual, 3)
	test.That(t, cfg.Status.InitialDelay, test.ShouldEqual, 500*time.Millisecond)
	test.That(t, cfg.Stream.MaxFrames, test.ShouldEqual, 300)
	test.That(t, cfg.Model.InputSize, test.ShouldEqual, 640)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("database:\n  driver: postgres\n  dsn: postgres://localhost/anpr\nstorage:\n  driver: s3\n  video_bucket: clips\n")
	test.That(t, os.WriteFile(path, content, 0o600), test.ShouldBeNil)

	cfg, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Database.DSN, test.ShouldEqual, "postgres://localhost/anpr")
	test.That(t, cfg.Storage.Driver, test.ShouldEqual, "s3")
	test.That(t, cfg.Storage.VideoBucket, test.ShouldEqual, "clips")
}

func TestValidate(t *testing.T) {
	t.Setenv("ANPR_DATABASE_DRIVER", "postgres")
	_, err := Load("")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "database.dsn")

	cfg := Config{
		Database: DatabaseConfig{Driver: "memory"},
		Storage:  StorageConfig{Driver: "ftp"},
		Model:    ModelConfig{InputSize: 640},
		Video:    VideoConfig{FrameSkip: 0, Codecs: []string{"mp4v"}},
	}
	err = cfg.Validate()
	test.That(t, err.Error(), test.ShouldContainSubstring, "storage.driver")
	test.That(t, err.Error(), test.ShouldContainSubstring, "frame_skip")
}
