package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"anpr-vision/internal/config"
	"anpr-vision/internal/db"
	"anpr-vision/internal/inference"
	"anpr-vision/internal/media"
	"anpr-vision/internal/media/opencv"
	"anpr-vision/internal/repository"
	"anpr-vision/internal/service"
	"anpr-vision/internal/storage"
	"anpr-vision/internal/transcode"
	"anpr-vision/internal/vision"
)

// store is what both the Postgres repository and the in-memory one provide.
type store interface {
	service.JobStore
	service.HistoryStore
}

type application struct {
	videos   *service.VideoService
	status   *service.StatusService
	streams  *service.StreamService
	images   *service.ImageService
	history  *service.HistoryService
	filesDir string
	closers  []func() error
}

func (a *application) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	return err
}

func dbOptions(cfg *config.Config, migrate bool) db.Options {
	return db.Options{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Migrate:         migrate,
	}
}

func build(cfg *config.Config, log zerolog.Logger) (*application, error) {
	app := &application{}
	fail := func(err error) (*application, error) {
		_ = app.Close()
		return nil, err
	}

	st, err := openStore(cfg, log, app)
	if err != nil {
		return fail(err)
	}

	net, err := opencv.LoadNet(cfg.Model.Path)
	if err != nil {
		return fail(err)
	}
	app.closers = append(app.closers, net.Close)

	decoder := vision.NewDecoder(vision.DecoderParams{
		InputSize:     cfg.Model.InputSize,
		ConfThreshold: cfg.Model.ConfThreshold,
		IoUThreshold:  cfg.Model.IoUThreshold,
	})
	pipeline := service.NewPipeline(inference.NewDetector(net, decoder), nil, nil)
	backend := opencv.Backend{}
	fs := afero.NewOsFs()

	videoBucket, imageBucket, err := openBuckets(cfg, fs, log, app)
	if err != nil {
		return fail(err)
	}

	videoOpts := service.DefaultVideoOptions()
	videoOpts.WorkDir = cfg.Video.WorkDir
	videoOpts.FrameSkip = cfg.Video.FrameSkip
	videoOpts.DownscaleWidth = cfg.Video.DownscaleWidth
	videoOpts.Codecs = codecs(cfg.Video.Codecs)
	videoOpts.Reencode = transcode.Params{
		CRF:     cfg.Video.CRF,
		Preset:  cfg.Video.Preset,
		Bitrate: cfg.Video.Bitrate,
		MaxRate: cfg.Video.MaxRate,
		BufSize: cfg.Video.BufSize,
	}

	app.videos = service.NewVideoService(service.VideoDeps{
		Jobs:      st,
		Backend:   backend,
		Pipeline:  pipeline,
		Reencoder: transcode.NewFFmpeg(log),
		Bucket:    videoBucket,
		Fs:        fs,
	}, videoOpts, log.With().Str("component", "video").Logger())

	app.status = service.NewStatusService(st, cfg.Status.Retries, cfg.Status.InitialDelay, log)

	streamOpts := service.DefaultStreamOptions()
	streamOpts.MaxFrames = cfg.Stream.MaxFrames
	streamOpts.Duration = cfg.Stream.Duration
	streamOpts.SampleLimit = cfg.Stream.SampleLimit
	streamOpts.PreviewDir = cfg.Stream.PreviewDir
	app.streams = service.NewStreamService(backend, pipeline, fs, nil, streamOpts, log.With().Str("component", "stream").Logger())

	app.images = service.NewImageService(backend, pipeline, imageBucket, st, nil, log.With().Str("component", "image").Logger())
	app.history = service.NewHistoryService(st, log)
	return app, nil
}

func openStore(cfg *config.Config, log zerolog.Logger, app *application) (store, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("using in-memory store, jobs and history are lost on restart")
		return repository.NewMemory(), nil
	}

	gdb, err := db.Open(dbOptions(cfg, cfg.Database.AutoMigrate), log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	app.closers = append(app.closers, sqlDB.Close)
	return repository.NewANPRRepository(gdb), nil
}

func openBuckets(cfg *config.Config, fs afero.Fs, log zerolog.Logger, app *application) (storage.Bucket, storage.Bucket, error) {
	sc := cfg.Storage
	if sc.Driver == "local" {
		app.filesDir = sc.LocalDir
		b := storage.NewLocalBucket(fs, sc.LocalDir, sc.PublicBaseURL)
		return b, b, nil
	}

	s3cfg := storage.S3Config{
		Endpoint:      sc.Endpoint,
		Region:        sc.Region,
		AccessKey:     sc.AccessKey,
		SecretKey:     sc.SecretKey,
		PublicBaseURL: sc.PublicBaseURL,
	}
	videoCfg, imageCfg := s3cfg, s3cfg
	videoCfg.Bucket = sc.VideoBucket
	imageCfg.Bucket = sc.ImageBucket
	if sc.PublicBaseURL != "" {
		videoCfg.PublicBaseURL = sc.PublicBaseURL + "/" + sc.VideoBucket
		imageCfg.PublicBaseURL = sc.PublicBaseURL + "/" + sc.ImageBucket
	}

	videos, err := storage.NewS3Bucket(videoCfg, log)
	if err != nil {
		return nil, nil, err
	}
	images, err := storage.NewS3Bucket(imageCfg, log)
	if err != nil {
		return nil, nil, err
	}
	return videos, images, nil
}

// codecs resolves configured FourCCs, keeping their order.
func codecs(names []string) []media.Codec {
	return lo.Map(names, func(name string, _ int) media.Codec {
		if c, ok := lo.Find(media.DefaultCodecs, func(c media.Codec) bool { return c.FourCC == name }); ok {
			return c
		}
		return media.Codec{FourCC: name, Description: name}
	})
}
