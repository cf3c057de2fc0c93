package detection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/packet-sentinel/internal/models"
)

type fakeModel struct {
	fits     int
	lastFit  int
	err      error
	flagOver float64
}

func (m *fakeModel) Fit(samples [][]float64) error {
	if m.err != nil {
		return m.err
	}
	m.fits++
	m.lastFit = len(samples)
	return nil
}

func (m *fakeModel) Predict(x []float64) bool {
	return x[0] > m.flagOver
}

func record(length, port int) models.PacketRecord {
	proto := models.ProtoTCP
	return models.NewPacketRecord(time.Now(), length, "10.0.0.9", "8.8.8.8", proto, port, nil)
}

// normalTraffic returns a repeatable mix of web and DNS sized packets
func normalTraffic(n int) []models.PacketRecord {
	ports := []int{80, 443, 53}
	out := make([]models.PacketRecord, n)
	for i := range out {
		out[i] = record(60+(i*7)%40, ports[i%len(ports)])
	}
	return out
}

func TestAnomalyScorer_SilentUntilTrained(t *testing.T) {
	s := NewAnomalyScorer(DefaultAnomalyConfig(), NewIsolationForest(0.01, 42), nil, nil)

	for i := 0; i < 99; i++ {
		// even absurd packets stay quiet before the minimum size
		assert.Nil(t, s.Observe(record(10_000_000, 1)))
	}
	assert.False(t, s.Trained())
	assert.Equal(t, 99, s.Buffered())
}

func TestAnomalyScorer_FlagsOffDistribution(t *testing.T) {
	s := NewAnomalyScorer(DefaultAnomalyConfig(), NewIsolationForest(0.01, 42), nil, nil)

	for _, rec := range normalTraffic(100) {
		s.Observe(rec)
	}
	require.True(t, s.Trained())

	alert := s.Observe(record(1_000_000, 443))
	require.NotNil(t, alert)
	assert.Equal(t, models.AlertMLAnomaly, alert.Type)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, 1_000_000, alert.Length)
	assert.Equal(t, 443, alert.Port)
	assert.Equal(t, AnomalySource, alert.Source)

	assert.Nil(t, s.Observe(record(80, 80)), "a typical packet should be an inlier")
}

func TestAnomalyScorer_TrainsOnceByDefault(t *testing.T) {
	m := &fakeModel{flagOver: 1e9}
	s := NewAnomalyScorer(AnomalyConfig{Capacity: 10, MinTrainingSize: 5}, m, nil, nil)

	for i := 0; i < 50; i++ {
		s.Observe(record(100, 80))
	}
	assert.Equal(t, 1, m.fits)
	assert.Equal(t, 5, m.lastFit)
	assert.Equal(t, 10, s.Buffered(), "buffer is capped at capacity")
}

func TestAnomalyScorer_Retrain(t *testing.T) {
	m := &fakeModel{flagOver: 1e9}
	s := NewAnomalyScorer(AnomalyConfig{Capacity: 10, MinTrainingSize: 5, RetrainEvery: 3}, m, nil, nil)

	for i := 0; i < 5; i++ {
		s.Observe(record(100, 80))
	}
	require.Equal(t, 1, m.fits)

	for i := 0; i < 3; i++ {
		s.Observe(record(100, 80))
	}
	assert.Equal(t, 2, m.fits)
	assert.Equal(t, 8, m.lastFit)
}

func TestAnomalyScorer_FitErrorKeepsUntrained(t *testing.T) {
	m := &fakeModel{err: errors.New("singular"), flagOver: 0}
	s := NewAnomalyScorer(AnomalyConfig{Capacity: 10, MinTrainingSize: 2}, m, nil, nil)

	for i := 0; i < 5; i++ {
		assert.Nil(t, s.Observe(record(100, 80)))
	}
	assert.False(t, s.Trained())
}

func TestAnomalyScorer_FIFOEviction(t *testing.T) {
	s := NewAnomalyScorer(AnomalyConfig{Capacity: 3, MinTrainingSize: 3}, &fakeModel{flagOver: 1e9}, nil, nil)
	for i := 1; i <= 5; i++ {
		s.Observe(record(i, 0))
	}
	got := s.samples()
	require.Len(t, got, 3)
	assert.Equal(t, []float64{3, 0}, got[0])
	assert.Equal(t, []float64{5, 0}, got[2])
}
