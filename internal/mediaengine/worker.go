package mediaengine

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/turn/v3"
	"github.com/pion/webrtc/v4"
)

// WorkerConfig carries the CLI-flag-derived settings that shape every
// Router/Transport the worker creates: ICE address binding, the announced
// address and the ICE port range.
type WorkerConfig struct {
	// RTCIP restricts host ICE candidate gathering to this local address
	// (--rtc-ip), via SettingEngine.SetIPFilter. Empty means every local
	// interface is gathered.
	RTCIP string
	// RTCAnnounceIP is the public address advertised when RTCIP is
	// wildcard (--rtc-announce-ip).
	RTCAnnounceIP string
	// RTCPortsRangeMin / Max bound the ephemeral UDP port range used for
	// ICE/RTP (--rtc-ports-range-min/max); default 10000-59999. Only UDP
	// is bounded: no TCP port range is configured.
	RTCPortsRangeMin uint16
	RTCPortsRangeMax uint16
}

func (c WorkerConfig) portRange() (uint16, uint16) {
	min, max := c.RTCPortsRangeMin, c.RTCPortsRangeMax
	if min == 0 && max == 0 {
		return 10000, 59999
	}
	return min, max
}

// pionWorker is the pion/webrtc-backed implementation of Worker. One
// instance is created by cmd/vulcan-relay at startup and shared by every
// Room's Router.
type pionWorker struct {
	cfg      WorkerConfig
	settings webrtc.SettingEngine

	mu         sync.Mutex
	turnServer *turn.Server
}

// NewWorker constructs the process-wide media engine worker from CLI
// configuration. It starts no TURN relay (see StartEmbeddedTURN); an
// invalid port range or an unparsable --rtc-ip is returned as an error so
// cmd/vulcan-relay can exit non-zero.
func NewWorker(cfg WorkerConfig) (Worker, error) {
	se := webrtc.SettingEngine{}
	se.DisableMediaEngineCopy(true)

	minPort, maxPort := cfg.portRange()
	if err := se.SetEphemeralUDPPortRange(minPort, maxPort); err != nil {
		return nil, fmt.Errorf("set ephemeral udp port range %d-%d: %w", minPort, maxPort, err)
	}

	if cfg.RTCIP != "" {
		rtcIP := net.ParseIP(cfg.RTCIP)
		if rtcIP == nil {
			return nil, fmt.Errorf("parse --rtc-ip %q", cfg.RTCIP)
		}
		se.SetIPFilter(func(candidateIP net.IP) bool {
			return candidateIP.Equal(rtcIP)
		})
	}

	if cfg.RTCAnnounceIP != "" {
		se.SetNAT1To1IPs([]string{cfg.RTCAnnounceIP}, webrtc.ICECandidateTypeHost)
	}

	w := &pionWorker{cfg: cfg, settings: se}
	return w, nil
}

func (w *pionWorker) newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(w.settings),
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// CreateRouter builds one Router (one pion API instance configured with
// the worker's shared SettingEngine) per Room.
func (w *pionWorker) CreateRouter(rtpCodecConfig RawJSON) (Router, error) {
	api, err := w.newAPI()
	if err != nil {
		return nil, err
	}
	return newPionRouter(api, w.cfg), nil
}

// Close tears down the optional embedded TURN relay, if one was started.
func (w *pionWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.turnServer != nil {
		err := w.turnServer.Close()
		w.turnServer = nil
		return err
	}
	return nil
}

// StartEmbeddedTURN starts a TURN relay bound to listenAddr, used when the
// relay's operator wants to avoid depending on an external TURN
// deployment. cmd/vulcan-relay only calls this when --rtc-announce-ip and
// the TURN credential flags are set.
func (w *pionWorker) StartEmbeddedTURN(listenAddr string, realm string, authFn turn.AuthHandler) error {
	udpListener, err := net.ListenPacket("udp4", listenAddr)
	if err != nil {
		return fmt.Errorf("listen udp for turn: %w", err)
	}

	server, err := turn.NewServer(turn.ServerConfig{
		Realm:       realm,
		AuthHandler: authFn,
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: net.ParseIP(w.cfg.RTCAnnounceIP),
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("start turn server: %w", err)
	}

	w.mu.Lock()
	w.turnServer = server
	w.mu.Unlock()
	return nil
}
