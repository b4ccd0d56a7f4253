package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/koron/go-ssdp"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

const defaultMaxAge = 1800

type advertiser interface {
	Alive() error
	Bye() error
	Close() error
}

type advertiseFunc func(st, usn, location, server string, maxAge int) (advertiser, error)

func koronAdvertise(st, usn, location, server string, maxAge int) (advertiser, error) {
	return ssdp.Advertise(st, usn, location, server, maxAge)
}

// SSDPConfig configures the advertiser.
type SSDPConfig struct {
	// Port is the HTTP port serving the device description.
	Port     int
	Identity config.DiscoveryConfig
	Version  string
}

// SSDP advertises the gateway as one UPnP device. It only announces;
// search responses are limited to its own device type.
type SSDP struct {
	cfg       SSDPConfig
	resolver  AddressSource
	logger    *logging.Logger
	clock     clock.Clock
	advertise advertiseFunc

	mu       sync.Mutex
	adv      advertiser
	usn      string
	location string
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewSSDP creates an advertiser. Call Start to begin announcing.
func NewSSDP(cfg SSDPConfig, resolver AddressSource, logger *logging.Logger) *SSDP {
	if cfg.Identity.MaxAge <= 0 {
		cfg.Identity.MaxAge = defaultMaxAge
	}
	return &SSDP{
		cfg:       cfg,
		resolver:  resolver,
		logger:    logger,
		clock:     clock.New(),
		advertise: koronAdvertise,
	}
}

// Start resolves the self address, announces ssdp:alive and re-announces
// every max-age/2 until Close or ctx is done.
func (s *SSDP) Start(ctx context.Context) error {
	addr, err := s.resolver.Resolve()
	if err != nil {
		return fmt.Errorf("resolving self address: %w", err)
	}

	usn := UDN(addr) + "::" + DeviceType
	location := fmt.Sprintf("http://%s:%d%s", addr.IP, s.cfg.Port, DescriptionPath)
	server := fmt.Sprintf("Linux UPnP/1.0 %s/%s", s.cfg.Identity.ModelName, s.cfg.Version)

	adv, err := s.advertise(DeviceType, usn, location, server, s.cfg.Identity.MaxAge)
	if err != nil {
		return fmt.Errorf("starting ssdp advertiser: %w", err)
	}
	if err := adv.Alive(); err != nil {
		adv.Close() //nolint:errcheck // alive failure takes precedence
		return fmt.Errorf("ssdp alive: %w", err)
	}

	s.mu.Lock()
	s.adv = adv
	s.usn = usn
	s.location = location
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	interval := time.Duration(s.cfg.Identity.MaxAge) * time.Second / 2
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.aliveLoop(ctx, adv, interval, done)
	}()

	s.logger.Info("ssdp advertiser started", "usn", usn, "location", location)
	return nil
}

func (s *SSDP) aliveLoop(ctx context.Context, adv advertiser, interval time.Duration, done <-chan struct{}) {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := adv.Alive(); err != nil {
				s.logger.Warn("ssdp alive failed", "error", err)
			}
		}
	}
}

// Close announces ssdp:byebye and stops the advertiser. Safe to call
// more than once.
func (s *SSDP) Close() error {
	s.mu.Lock()
	adv := s.adv
	s.adv = nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	if adv == nil {
		return nil
	}

	if err := adv.Bye(); err != nil {
		s.logger.Warn("ssdp bye failed", "error", err)
	}
	return adv.Close()
}

// USN returns the advertised unique service name, empty before Start.
func (s *SSDP) USN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usn
}

// Location returns the advertised description URL, empty before Start.
func (s *SSDP) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// Running reports whether the advertiser is active.
func (s *SSDP) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adv != nil
}
