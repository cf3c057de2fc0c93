package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nshruti113/packet-sentinel/internal/capture"
	"github.com/nshruti113/packet-sentinel/internal/logging"
	"github.com/nshruti113/packet-sentinel/internal/models"
)

const localHost = "192.168.1.100"

type Simulator struct {
	serverURL  string
	normalRate int
	client     *http.Client
	logger     *zap.Logger
	rng        *rand.Rand
}

func NewSimulator(serverURL string, normalRate int, logger *zap.Logger) *Simulator {
	return &Simulator{
		serverURL:  serverURL,
		normalRate: normalRate,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulator) ephemeralPort() int {
	return s.rng.Intn(65535-49152) + 49152
}

// GenerateNormalTraffic creates ordinary outbound web and DNS traffic
func (s *Simulator) GenerateNormalTraffic() capture.FrameSpec {
	destinations := []string{
		"142.250.72.14", "151.101.1.69", "104.16.132.229", "13.107.42.14", "52.84.150.39",
	}

	if s.rng.Intn(5) == 0 {
		return capture.FrameSpec{
			Src:     localHost,
			Dst:     "1.1.1.1",
			Proto:   models.ProtoUDP,
			SrcPort: s.ephemeralPort(),
			DstPort: 53,
			Payload: bytes.Repeat([]byte{0}, s.rng.Intn(40)+20),
		}
	}
	return capture.FrameSpec{
		Src:     localHost,
		Dst:     destinations[s.rng.Intn(len(destinations))],
		Proto:   models.ProtoTCP,
		SrcPort: s.ephemeralPort(),
		DstPort: 443,
		Payload: bytes.Repeat([]byte{0x17}, s.rng.Intn(1000)+100),
	}
}

// GeneratePortScan probes a run of ports on one host
func (s *Simulator) GeneratePortScan() []capture.FrameSpec {
	specs := make([]capture.FrameSpec, 0, 20)
	for port := 20; port < 40; port++ {
		specs = append(specs, capture.FrameSpec{
			Src:     localHost,
			Dst:     "8.8.8.8",
			Proto:   models.ProtoTCP,
			SrcPort: s.ephemeralPort(),
			DstPort: port,
			SYN:     true,
		})
	}
	return specs
}

// GenerateHighVolume sends enough large datagrams to cross the volume threshold
func (s *Simulator) GenerateHighVolume() []capture.FrameSpec {
	specs := make([]capture.FrameSpec, 0, 800)
	payload := bytes.Repeat([]byte("X"), 1400)
	for i := 0; i < 800; i++ {
		specs = append(specs, capture.FrameSpec{
			Src:     localHost,
			Dst:     "8.8.8.8",
			Proto:   models.ProtoUDP,
			SrcPort: s.ephemeralPort(),
			DstPort: 53,
			Payload: payload,
		})
	}
	return specs
}

// GenerateCredentialLeak posts a plaintext password over HTTP
func (s *Simulator) GenerateCredentialLeak() capture.FrameSpec {
	body := "user=admin&password=secret123"
	payload := fmt.Sprintf("POST /login HTTP/1.1\r\nHost: example.com\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: %d\r\n\r\n%s",
		len(body), body)
	return capture.FrameSpec{
		Src:     localHost,
		Dst:     "93.184.216.34",
		Proto:   models.ProtoTCP,
		SrcPort: s.ephemeralPort(),
		DstPort: 80,
		Payload: []byte(payload),
	}
}

func (s *Simulator) toIngest(spec capture.FrameSpec) (capture.Ingest, error) {
	frame, err := capture.BuildFrame(spec)
	if err != nil {
		return capture.Ingest{}, err
	}
	return capture.Ingest{Timestamp: time.Now(), Frame: frame}, nil
}

func (s *Simulator) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return nil
}

// SendTraffic sends frames to the server as one batch
func (s *Simulator) SendTraffic(ctx context.Context, specs ...capture.FrameSpec) error {
	batch := make([]capture.Ingest, 0, len(specs))
	for _, spec := range specs {
		in, err := s.toIngest(spec)
		if err != nil {
			return err
		}
		batch = append(batch, in)
	}
	if len(batch) == 1 {
		return s.post(ctx, "/api/traffic/ingest", batch[0])
	}
	return s.post(ctx, "/api/traffic/batch", batch)
}

func (s *Simulator) StartCapture(ctx context.Context) error {
	return s.post(ctx, "/api/capture/start", struct{}{})
}

func (s *Simulator) runScenario(ctx context.Context, name string) error {
	switch name {
	case "portscan":
		return s.SendTraffic(ctx, s.GeneratePortScan()...)
	case "volume":
		return s.SendTraffic(ctx, s.GenerateHighVolume()...)
	case "leak":
		return s.SendTraffic(ctx, s.GenerateCredentialLeak())
	default:
		return fmt.Errorf("unknown scenario %q", name)
	}
}

// Run sends normal traffic every second and injects attacks on a cycle
// until ctx is done. A scenario other than "cycle" is sent once.
func (s *Simulator) Run(ctx context.Context, scenario string) error {
	if err := s.StartCapture(ctx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	if scenario != "cycle" {
		if err := s.runScenario(ctx, scenario); err != nil {
			return err
		}
		s.logger.Info("scenario sent", zap.String("scenario", scenario))
		return nil
	}

	s.logger.Info("generating normal traffic", zap.Int("rate", s.normalRate))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	attackTicker := time.NewTicker(10 * time.Second)
	defer attackTicker.Stop()

	attackSequence := []string{"portscan", "leak", "volume"}
	next := 0

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			specs := make([]capture.FrameSpec, 0, s.normalRate)
			for i := 0; i < s.normalRate; i++ {
				specs = append(specs, s.GenerateNormalTraffic())
			}
			if err := s.SendTraffic(ctx, specs...); err != nil {
				s.logger.Warn("send normal traffic failed", zap.Error(err))
			}

		case <-attackTicker.C:
			name := attackSequence[next]
			next = (next + 1) % len(attackSequence)
			s.logger.Info("starting attack", zap.String("scenario", name))
			if err := s.runScenario(ctx, name); err != nil {
				s.logger.Warn("attack failed", zap.String("scenario", name), zap.Error(err))
			}
		}
	}
}

func main() {
	serverURL := flag.String("server", "http://localhost:5001", "sentinel server URL")
	scenario := flag.String("scenario", "cycle", "cycle, portscan, volume or leak")
	rate := flag.Int("rate", 20, "normal packets per second")
	flag.Parse()

	logger, err := logging.New("info", false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	simulator := NewSimulator(*serverURL, *rate, logger.Named("simulator"))
	if err := simulator.Run(ctx, *scenario); err != nil {
		logger.Fatal("simulator failed", zap.Error(err))
	}
}
