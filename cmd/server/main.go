package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nshruti113/packet-sentinel/internal/capture"
	"github.com/nshruti113/packet-sentinel/internal/clock"
	"github.com/nshruti113/packet-sentinel/internal/config"
	"github.com/nshruti113/packet-sentinel/internal/detection"
	"github.com/nshruti113/packet-sentinel/internal/geo"
	"github.com/nshruti113/packet-sentinel/internal/logging"
	"github.com/nshruti113/packet-sentinel/internal/metrics"
	"github.com/nshruti113/packet-sentinel/internal/models"
	"github.com/nshruti113/packet-sentinel/internal/pipeline"
	"github.com/nshruti113/packet-sentinel/internal/publish"
	"github.com/nshruti113/packet-sentinel/internal/storage"
	"github.com/nshruti113/packet-sentinel/internal/threatintel"
)

type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	clock    clock.Clock
	pipeline *pipeline.Pipeline
	hub      *publish.Hub
	ws       *publish.WSBroadcaster
	redis    *storage.RedisClient
	geo      *geo.Enricher
	closers  []func() error
	feed     *threatintel.Feed
	registry *prometheus.Registry
	router   *gin.Engine
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		clock:    clock.RealClock{},
		hub:      publish.NewHub(),
		ws:       publish.NewWSBroadcaster(logger),
		registry: prometheus.NewRegistry(),
	}

	if err := metrics.Register(s.registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize Redis
	if cfg.Redis.Enabled {
		redisClient, err := storage.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Redis.ChannelPrefix, s.clock, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.redis = redisClient
		s.closers = append(s.closers, redisClient.Close)
	}

	components := pipeline.Components{
		Heuristics: detection.NewHeuristics(detection.Thresholds{
			Window:            cfg.Heuristics.Window,
			PortScanThreshold: cfg.Heuristics.PortScanThreshold,
			VolumeThreshold:   cfg.Heuristics.VolumeThreshold,
		}, s.clock),
		Publisher: s.hub,
		Clock:     s.clock,
		Logger:    logger,
	}

	if cfg.Geo.Enabled {
		enricher, err := s.newEnricher(s.hub)
		if err != nil {
			return nil, err
		}
		s.geo = enricher
		components.Geo = enricher
	}

	if cfg.ThreatIntel.Enabled {
		s.feed = threatintel.NewFeed(threatintel.Options{
			Name:            cfg.ThreatIntel.Name,
			Source:          cfg.ThreatIntel.Source,
			RefreshInterval: cfg.ThreatIntel.RefreshInterval,
			RequestTimeout:  cfg.ThreatIntel.RequestTimeout,
		}, s.clock, logger)
		components.ThreatIntel = s.feed
	}

	if cfg.Anomaly.Enabled {
		forest := detection.NewIsolationForest(cfg.Anomaly.Contamination, cfg.Anomaly.Seed)
		if cfg.Anomaly.Trees > 0 {
			forest.Trees = cfg.Anomaly.Trees
		}
		if cfg.Anomaly.SampleSize > 0 {
			forest.SampleSize = cfg.Anomaly.SampleSize
		}
		components.Anomaly = detection.NewAnomalyScorer(detection.AnomalyConfig{
			Capacity:        cfg.Anomaly.Capacity,
			MinTrainingSize: cfg.Anomaly.MinTrainingSize,
			RetrainEvery:    cfg.Anomaly.RetrainEvery,
		}, forest, s.clock, logger)
	}

	if path := cfg.Capture.PcapPath; path != "" {
		components.Recorder = func() (pipeline.Recorder, error) {
			return capture.NewPcapRecorder(path)
		}
	}

	s.pipeline = pipeline.New(components)

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger(logger))
	s.setupRoutes()

	return s, nil
}

func (s *Server) newEnricher(pub geo.UpdatePublisher) (*geo.Enricher, error) {
	cfg := s.cfg.Geo

	var lookup geo.Lookuper
	switch cfg.Provider {
	case "maxmind":
		mm, err := geo.NewMaxMindLookuper(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, mm.Close)
		lookup = mm
	default:
		lookup = geo.NewHTTPLookuper(cfg.Endpoint, cfg.RequestTimeout)
	}

	return geo.NewEnricher(lookup, pub, geo.Options{
		MinInterval:    cfg.MinInterval,
		RequestTimeout: cfg.RequestTimeout,
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		CacheSize:      cfg.CacheSize,
	}, s.logger)
}

func (s *Server) setupRoutes() {
	// Enable CORS
	s.router.Use(corsMiddleware())

	// API routes
	api := s.router.Group("/api")
	{
		// Capture session
		api.POST("/capture/start", s.startCapture)
		api.POST("/capture/stop", s.stopCapture)
		api.GET("/status", s.getStatus)
		api.GET("/download_pcap", s.downloadPcap)

		// Traffic ingestion
		api.POST("/traffic/ingest", s.ingestTraffic)
		api.POST("/traffic/batch", s.ingestBatch)

		// Dashboard stats
		api.GET("/stats/summary", s.getSummaryStats)
		api.GET("/stats/history", s.getStatsHistory)
		api.GET("/alerts/recent", s.getRecentAlerts)
	}

	// WebSocket endpoint
	s.router.GET("/ws", gin.WrapH(s.ws))

	// Prometheus
	s.router.GET(s.cfg.Server.MetricsPath, gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

func (s *Server) broadcastStatus() {
	s.hub.Publish(publish.NewEvent(publish.EventStatus, gin.H{"is_capturing": s.pipeline.State() == pipeline.Capturing}))
}

func (s *Server) startCapture(c *gin.Context) {
	if err := s.pipeline.Start(); err != nil {
		s.logger.Error("failed to start capture", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.broadcastStatus()
	c.JSON(http.StatusOK, s.pipeline.Status())
}

func (s *Server) stopCapture(c *gin.Context) {
	if err := s.pipeline.Stop(); err != nil {
		s.logger.Warn("capture stopped with error", zap.Error(err))
	}
	s.broadcastStatus()
	c.JSON(http.StatusOK, s.pipeline.Status())
}

// getStatus returns the session state and background component health
func (s *Server) getStatus(c *gin.Context) {
	published, dropped := s.hub.Stats()
	status := gin.H{
		"pipeline":   s.pipeline.Status(),
		"ws_clients": s.ws.Clients(),
		"events": gin.H{
			"published": published,
			"dropped":   dropped,
		},
	}
	if s.feed != nil {
		feed := gin.H{"name": s.feed.Name(), "entries": s.feed.Size()}
		if last := s.feed.LastUpdate(); !last.IsZero() {
			feed["last_update"] = last
		}
		status["threat_intel"] = feed
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) downloadPcap(c *gin.Context) {
	path := s.cfg.Capture.PcapPath
	if path == "" {
		c.String(http.StatusNotFound, "No capture file found")
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.String(http.StatusNotFound, "No capture file found")
		return
	}
	c.FileAttachment(path, "capture.pcap")
}

// ingestTraffic receives and processes one packet
func (s *Server) ingestTraffic(c *gin.Context) {
	var req capture.Ingest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := req.ToRecord(s.clock.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, alerts, ok := s.pipeline.Process(rec)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "capture is not running"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "alerts": alerts})
}

// ingestBatch processes a list of packets in order
func (s *Server) ingestBatch(c *gin.Context) {
	var reqs []capture.Ingest

	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := s.clock.Now()
	var (
		processed, rejected int
		alerts              []models.Alert
	)
	for _, req := range reqs {
		rec, err := req.ToRecord(now)
		if err != nil {
			rejected++
			continue
		}
		_, found, ok := s.pipeline.Process(rec)
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "capture is not running", "processed": processed})
			return
		}
		processed++
		alerts = append(alerts, found...)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "processed": processed, "rejected": rejected, "alerts": alerts})
}

// getSummaryStats returns dashboard summary statistics
func (s *Server) getSummaryStats(c *gin.Context) {
	status := s.pipeline.Status()
	summary := gin.H{
		"state":          status.State,
		"processed":      status.Processed,
		"alerts":         status.Alerts,
		"current_pps":    0.0,
		"unique_sources": int64(0),
	}

	if s.redis != nil {
		if current, err := s.redis.GetStats(s.clock.Now()); err == nil {
			summary["current_pps"] = current.PacketsPerSec
			summary["unique_sources"] = current.UniqueSources
			summary["top_sources"] = current.TopSources
		}
	}

	c.JSON(http.StatusOK, summary)
}

// getStatsHistory returns per-minute counters for the last hour
func (s *Server) getStatsHistory(c *gin.Context) {
	if s.redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis is disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats": s.redis.GetStatsHistory(60),
	})
}

func (s *Server) getRecentAlerts(c *gin.Context) {
	if s.redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis is disabled"})
		return
	}
	alerts, err := s.redis.GetRecentAlerts(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
	})
}

// replay feeds a recorded pcap file through the pipeline
func (s *Server) replay(ctx context.Context, path string) {
	if err := s.pipeline.Start(); err != nil {
		s.logger.Error("replay: failed to start capture", zap.Error(err))
		return
	}

	records := make(chan models.PacketRecord, 256)
	go func() {
		defer close(records)
		n, err := capture.ReplayFile(ctx, path, records)
		if err != nil {
			s.logger.Error("replay failed", zap.String("path", path), zap.Error(err))
			return
		}
		s.logger.Info("replay finished", zap.String("path", path), zap.Int("packets", n))
	}()

	if err := s.pipeline.Run(ctx, records); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("replay stopped", zap.Error(err))
	}
}

// Run starts the background components and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		for _, c := range s.closers {
			if err := c(); err != nil {
				s.logger.Warn("close failed", zap.Error(err))
			}
		}
	}()
	if s.geo != nil {
		s.geo.Start()
		defer s.geo.Close()
	}
	if s.feed != nil {
		s.feed.Start()
		defer s.feed.Stop()
	}

	wsEvents := s.hub.Subscribe(1024)
	defer s.hub.Unsubscribe(wsEvents)
	go s.ws.Pump(ctx, wsEvents)
	defer s.ws.Close()

	// external sinks share one subscription, off the packet path
	var external publish.Multi
	if s.redis != nil {
		external = append(external, s.redis)
	}
	if len(external) > 0 {
		sinkEvents := s.hub.Subscribe(4096, publish.EventPacket, publish.EventThreat, publish.EventGeoUpdate)
		defer s.hub.Unsubscribe(sinkEvents)
		go publish.Forward(ctx, sinkEvents, external, func(e publish.Event, err error) {
			metrics.ObservePublishError(string(e.Type))
			s.logger.Warn("sink publish failed", zap.String("event", string(e.Type)), zap.Error(err))
		})
	}

	if path := s.cfg.Capture.ReplayPath; path != "" {
		go s.replay(ctx, path)
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := s.pipeline.Stop(); err != nil {
		s.logger.Warn("capture stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults to $SENTINEL_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting packet sentinel")

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}
