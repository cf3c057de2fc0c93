package detection

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nshruti113/packet-sentinel/internal/clock"
	"github.com/nshruti113/packet-sentinel/internal/logging"
	"github.com/nshruti113/packet-sentinel/internal/metrics"
	"github.com/nshruti113/packet-sentinel/internal/models"
)

// AnomalySource labels alerts raised by the outlier model
const AnomalySource = "AI Engine"

// AnomalyConfig sizes the feature buffer and the training policy
type AnomalyConfig struct {
	Capacity        int
	MinTrainingSize int
	// RetrainEvery refits after this many scored observations; 0 trains once
	RetrainEvery int
}

func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{Capacity: 1000, MinTrainingSize: 100}
}

// AnomalyScorer keeps a bounded FIFO of (length, port) features and scores
// every record against a model fitted on it.
type AnomalyScorer struct {
	mu     sync.Mutex
	cfg    AnomalyConfig
	model  OutlierModel
	clock  clock.Clock
	logger *zap.Logger

	ring     [][]float64
	head     int
	count    int
	trained  bool
	sinceFit int
}

func NewAnomalyScorer(cfg AnomalyConfig, model OutlierModel, c clock.Clock, logger *zap.Logger) *AnomalyScorer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.MinTrainingSize <= 0 || cfg.MinTrainingSize > cfg.Capacity {
		cfg.MinTrainingSize = cfg.Capacity
	}
	return &AnomalyScorer{
		cfg:    cfg,
		model:  model,
		clock:  clock.OrReal(c),
		logger: logging.OrNop(logger).Named("anomaly"),
		ring:   make([][]float64, cfg.Capacity),
	}
}

// Observe buffers the record's features, trains when due, and returns an
// ML_ANOMALY alert when the fitted model classifies the record as an outlier.
func (s *AnomalyScorer) Observe(rec models.PacketRecord) *models.Alert {
	x := []float64{float64(rec.Length), float64(rec.DstPort)}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.push(x)

	switch {
	case !s.trained:
		if s.count >= s.cfg.MinTrainingSize {
			s.fit()
		}
	case s.cfg.RetrainEvery > 0:
		s.sinceFit++
		if s.sinceFit >= s.cfg.RetrainEvery {
			s.fit()
		}
	}

	if !s.trained || !s.model.Predict(x) {
		return nil
	}

	alert := models.NewAlert(models.AlertMLAnomaly, models.SeverityHigh, AnomalySource, rec.Src,
		fmt.Sprintf("ML detected anomalous packet (Len: %d, Port: %d)", rec.Length, rec.DstPort), s.clock.Now())
	alert.Length = rec.Length
	alert.Port = rec.DstPort
	return &alert
}

func (s *AnomalyScorer) push(x []float64) {
	idx := (s.head + s.count) % len(s.ring)
	s.ring[idx] = x
	if s.count < len(s.ring) {
		s.count++
	} else {
		s.head = (s.head + 1) % len(s.ring)
	}
}

// samples returns the buffer contents oldest first
func (s *AnomalyScorer) samples() [][]float64 {
	out := make([][]float64, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.ring[(s.head+i)%len(s.ring)]
	}
	return out
}

func (s *AnomalyScorer) fit() {
	data := s.samples()
	if err := s.model.Fit(data); err != nil {
		s.logger.Warn("model fit failed", zap.Int("samples", len(data)), zap.Error(err))
		return
	}
	s.trained = true
	s.sinceFit = 0
	metrics.ObserveAnomalyFit()
	s.logger.Info("model trained", zap.Int("samples", len(data)))
}

// Trained reports whether a model fit has succeeded
func (s *AnomalyScorer) Trained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trained
}

// Buffered returns how many feature vectors are held
func (s *AnomalyScorer) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
