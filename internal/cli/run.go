package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"plate-node/internal/config"
	"plate-node/internal/correction"
	"plate-node/internal/db"
	"plate-node/internal/detector"
	"plate-node/internal/hub"
	nodehttp "plate-node/internal/http"
	"plate-node/internal/imagestore"
	"plate-node/internal/logger"
	"plate-node/internal/metrics"
	"plate-node/internal/ocr"
	"plate-node/internal/pipeline"
	"plate-node/internal/publisher"
	"plate-node/internal/repository"
	"plate-node/internal/service"
	"plate-node/internal/source"
	"plate-node/internal/speed"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the detection worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			if errors.Is(err, config.ErrConfigMissing) {
				return fmt.Errorf("%w (create one with `plate-node config init`)", err)
			}
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format).With().
		Str("node_id", cfg.Node.NodeID).
		Logger()
	log.Info().Str("state", string(service.StateStarting)).Msg("worker state changed")

	m := metrics.New()
	images := imagestore.New(cfg.Node.LocalImagePath)
	hubClient := hub.NewClient(cfg.Node, logger.Component(log, "hub"), hub.WithImageReader(images))

	src, err := source.Open(cfg.Node.VideoSource, source.Options{
		Fps:  cfg.Node.ProcessingFps,
		Loop: cfg.Processing.LoopVideo,
	})
	if err != nil {
		return fmt.Errorf("open video source: %w", err)
	}
	defer src.Close()

	det, err := detector.New(cfg.Detector, cfg.Node.ConfidenceThreshold, logger.Component(log, "detector"))
	if err != nil {
		return err
	}
	defer det.Close()

	ocrSvc := ocr.NewService(ocr.Options{
		Method:         cfg.Node.OcrMethod,
		CharConfidence: cfg.Node.OcrConfidenceThreshold,
		YoloEndpoint:   cfg.OCR.YoloEndpoint,
		TextDetector:   textDetector(ctx, cfg, log),
		Optimize:       cfg.OCR.Optimize,
	}, logger.Component(log, "ocr"))
	defer ocrSvc.Close()

	assembler := pipeline.NewAssembler(
		correction.NewCorrector(logger.Component(log, "corrector")),
		ocrSvc,
		cfg.Node.NodeID,
		cfg.Node.NodeName,
		logger.Component(log, "assembler"),
	)

	estimator := speed.NewEstimator()

	deps := service.WorkerDeps{
		Source:    src,
		Detector:  det,
		Assembler: assembler,
		Reporter:  hubClient,
		Speed:     estimator,
		Metrics:   m,
		Images:    images,
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		estimator.Run(ctx, cfg.Processing.CleanupInterval, func(removed int) {
			log.Debug().Int("removed", removed).Msg("purged stale speed entries")
		})
	}()

	var detections *service.DetectionService
	if cfg.Outbox.Enabled {
		gdb, err := db.Open(cfg.Database.DSN, logger.Component(log, "db"))
		if err != nil {
			return err
		}
		repo := repository.NewOutboxRepository(gdb)
		deps.Outbox = repo
		detections = service.NewDetectionService(repo, logger.Component(log, "detections"))

		drainer := service.NewOutboxDrainer(repo, hubClient, cfg.Outbox.BatchSize, cfg.Outbox.RetentionDays, m, logger.Component(log, "outbox")).
			WithMaxAttempts(cfg.Outbox.MaxAttempts)
		wg.Add(1)
		go func() {
			defer wg.Done()
			drainer.Run(ctx, cfg.Outbox.Interval)
		}()
	}

	if cfg.Kafka.Enabled {
		pub := publisher.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Node.NodeID, logger.Component(log, "kafka"))
		defer pub.Close()
		deps.Publisher = pub
	}

	worker := service.NewNodeWorker(cfg.Node, cfg.Processing.Mode, deps, logger.Component(log, "worker"))

	if cfg.HTTP.Enabled {
		gin.SetMode(gin.ReleaseMode)
		handler := nodehttp.NewHandler(worker, detections, m.Handler(), logger.Component(log, "http"))
		router := nodehttp.NewRouter(handler, nodehttp.NewTokenAuth(cfg.Node.APIToken, cfg.Node.NodeID), cfg.HTTP.AllowedOrigins, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := nodehttp.Serve(ctx, cfg.HTTP.Addr, router, log); err != nil {
				log.Error().Err(err).Msg("local API stopped")
			}
		}()
	}

	return worker.Run(ctx)
}

// textDetector builds the Rekognition client only when that engine is selected.
func textDetector(ctx context.Context, cfg *config.Config, log zerolog.Logger) ocr.TextDetector {
	method, err := ocr.ParseMethod(cfg.Node.OcrMethod)
	if err != nil || method != ocr.MethodRekognition {
		return nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load AWS configuration")
		return nil
	}
	return rekognition.NewFromConfig(awsCfg)
}
