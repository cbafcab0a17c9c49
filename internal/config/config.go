package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Model    ModelConfig    `mapstructure:"model"`
	Video    VideoConfig    `mapstructure:"video"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Status   StatusConfig   `mapstructure:"status"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	Mode           string        `mapstructure:"mode"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxUploadMB    int64         `mapstructure:"max_upload_mb"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type ModelConfig struct {
	Path          string  `mapstructure:"path"`
	InputSize     int     `mapstructure:"input_size"`
	ConfThreshold float32 `mapstructure:"conf_threshold"`
	IoUThreshold  float64 `mapstructure:"iou_threshold"`
}

type VideoConfig struct {
	WorkDir        string   `mapstructure:"work_dir"`
	FrameSkip      int      `mapstructure:"frame_skip"`
	DownscaleWidth int      `mapstructure:"downscale_width"`
	Codecs         []string `mapstructure:"codecs"`
	CRF            int      `mapstructure:"crf"`
	Preset         string   `mapstructure:"preset"`
	Bitrate        string   `mapstructure:"bitrate"`
	MaxRate        string   `mapstructure:"maxrate"`
	BufSize        string   `mapstructure:"bufsize"`
}

type StreamConfig struct {
	MaxFrames   int           `mapstructure:"max_frames"`
	Duration    time.Duration `mapstructure:"duration"`
	SampleLimit int           `mapstructure:"sample_limit"`
	PreviewDir  string        `mapstructure:"preview_dir"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	LocalDir      string `mapstructure:"local_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	VideoBucket   string `mapstructure:"video_bucket"`
	ImageBucket   string `mapstructure:"image_bucket"`
}

type StatusConfig struct {
	Retries      int           `mapstructure:"retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 512)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("model.path", "models/vehicle.onnx")
	v.SetDefault("model.input_size", 640)
	v.SetDefault("model.conf_threshold", 0.30)
	v.SetDefault("model.iou_threshold", 0.35)

	v.SetDefault("video.work_dir", "outputs/videos")
	v.SetDefault("video.frame_skip", 1)
	v.SetDefault("video.downscale_width", 1280)
	v.SetDefault("video.codecs", []string{"avc1", "H264", "X264", "mp4v", "XVID", "MJPG"})
	v.SetDefault("video.crf", 24)
	v.SetDefault("video.preset", "slow")
	v.SetDefault("video.bitrate", "800k")
	v.SetDefault("video.maxrate", "800k")
	v.SetDefault("video.bufsize", "1600k")

	v.SetDefault("stream.max_frames", 300)
	v.SetDefault("stream.duration", 30*time.Second)
	v.SetDefault("stream.sample_limit", 50)
	v.SetDefault("stream.preview_dir", "outputs")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_dir", "outputs/files")
	v.SetDefault("storage.public_base_url", "http://localhost:8080/files")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.video_bucket", "videos")
	v.SetDefault("storage.image_bucket", "images")

	v.SetDefault("status.retries", 3)
	v.SetDefault("status.initial_delay", 500*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
}

// Load reads defaults, then the optional config file, then ANPR_* environment
// variables (ANPR_DATABASE_DSN overrides database.dsn).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ANPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// AutomaticEnv only resolves keys viper already knows; bind the ones
	// without defaults explicitly.
	for _, key := range []string{"database.dsn", "storage.endpoint", "storage.access_key", "storage.secret_key", "auth.jwt_secret", "log.file"} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	switch c.Storage.Driver {
	case "local", "s3":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Model.InputSize <= 0 {
		errs = append(errs, errors.New("model.input_size must be positive"))
	}
	if c.Video.FrameSkip < 1 {
		errs = append(errs, errors.New("video.frame_skip must be at least 1"))
	}
	if len(c.Video.Codecs) == 0 {
		errs = append(errs, errors.New("video.codecs must not be empty"))
	}
	return errors.Join(errs...)
}
