package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/logging"
)

// TargetResolver finds the address of the device that should receive
// actuation commands. The device directory implements this.
type TargetResolver interface {
	// ResolveTargetAddress returns a base address like "http://192.168.1.50".
	// An error means no device is known; the forwarder falls back to the
	// configured default address.
	ResolveTargetAddress(ctx context.Context) (string, error)
}

// ForwarderConfig controls forwarding behaviour.
type ForwarderConfig struct {
	// DefaultAddress is used when the resolver finds no device.
	DefaultAddress string

	// Timeout bounds each forward attempt.
	Timeout time.Duration

	// QueueSize bounds the pending-command queue.
	QueueSize int
}

// Forwarder delivers LED commands to the target device asynchronously.
//
// Commands are queued by the core while it holds the command mutex;
// delivery happens later on a single worker goroutine so a slow or absent
// device never delays state persistence or broadcasts. There is no retry:
// a failed forward surfaces as a server_message event and the state
// remains authoritative in the store.
type Forwarder struct {
	cfg      ForwarderConfig
	resolver TargetResolver
	client   *http.Client
	log      *logging.Logger

	// notify reports delivery failures back to the core for broadcast.
	notify func(ServerMessage)

	queue chan State

	stopOnce sync.Once
	done     chan struct{}
}

// NewForwarder creates a forwarder. Call Start to begin delivery.
func NewForwarder(cfg ForwarderConfig, resolver TargetResolver, notify func(ServerMessage), log *logging.Logger) *Forwarder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	return &Forwarder{
		cfg:      cfg,
		resolver: resolver,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log,
		notify:   notify,
		queue:    make(chan State, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery worker. The worker runs until ctx is
// cancelled or Stop is called.
func (f *Forwarder) Start(ctx context.Context) {
	go f.run(ctx)
}

// Stop shuts down the delivery worker. Queued commands are discarded.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
	})
}

// Enqueue queues a command for delivery. It never blocks: when the queue
// is full the command is dropped and reported as a warning, since the
// persisted state is already authoritative and a newer command will
// supersede this one anyway.
func (f *Forwarder) Enqueue(s State) {
	select {
	case f.queue <- s:
	default:
		f.log.Warn("Forward queue full, dropping command",
			"red", s.Red,
			"green", s.Green,
		)
		if f.notify != nil {
			f.notify(ServerMessage{
				Type: "warning",
				Text: "Device command queue full, command not forwarded.",
			})
		}
	}
}

// run is the delivery loop.
func (f *Forwarder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case s := <-f.queue:
			f.deliver(ctx, s)
		}
	}
}

// deliver sends one command to the resolved target.
func (f *Forwarder) deliver(ctx context.Context, s State) {
	address := f.cfg.DefaultAddress
	if f.resolver != nil {
		if resolved, err := f.resolver.ResolveTargetAddress(ctx); err == nil {
			address = resolved
		}
	}
	if address == "" {
		f.fail(s, fmt.Errorf("%w: no target device and no default address configured", ErrForwardingFailed))
		return
	}

	if err := f.post(ctx, address, s); err != nil {
		f.fail(s, err)
		return
	}

	f.log.Debug("Command forwarded to device",
		"address", address,
		"red", s.Red,
		"green", s.Green,
	)
}

// post sends the command JSON to <address>/api/control-led.
func (f *Forwarder) post(ctx context.Context, address string, s State) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: encoding command: %w", ErrForwardingFailed, err)
	}

	url := strings.TrimSuffix(address, "/") + "/api/control-led"

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrForwardingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrForwardingFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only cleanup

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Best effort drain

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: device returned status %d", ErrForwardingFailed, resp.StatusCode)
	}

	return nil
}

// fail logs a delivery failure and notifies subscribers.
func (f *Forwarder) fail(s State, err error) {
	f.log.Warn("Failed to forward command to device",
		"red", s.Red,
		"green", s.Green,
		"error", err,
	)
	if f.notify != nil {
		f.notify(ServerMessage{
			Type: "error",
			Text: fmt.Sprintf("Failed to contact microcontrollers: %v", err),
		})
	}
}
