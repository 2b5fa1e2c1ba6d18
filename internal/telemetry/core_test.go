package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/logging"
)

// memReadingRepo is an in-memory ReadingRepository for core tests.
type memReadingRepo struct {
	mu      sync.Mutex
	batches []*Batch
	failing bool
}

func (r *memReadingRepo) InsertBatch(_ context.Context, batch *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("disk full")
	}
	r.batches = append(r.batches, batch)
	return nil
}

func (r *memReadingRepo) GetLatest(_ context.Context, sensorType string, limit int) ([]Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Reading
	for i := len(r.batches) - 1; i >= 0 && len(out) < limit; i-- {
		for _, s := range r.batches[i].Sensors {
			if s.Type == sensorType {
				out = append(out, Reading{Device: r.batches[i].Device, Type: s.Type, Value: s.Value})
			}
		}
	}
	return out, nil
}

func (r *memReadingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// memStateRepo records the order of Set calls.
type memStateRepo struct {
	mu      sync.Mutex
	state   State
	history []State
	failing bool
}

func (r *memStateRepo) Get(_ context.Context) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return State{}, errors.New("disk error")
	}
	return r.state, nil
}

func (r *memStateRepo) Set(_ context.Context, s State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("disk error")
	}
	r.state = s
	r.history = append(r.history, s)
	return nil
}

func (r *memStateRepo) setHistory() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.history))
	copy(out, r.history)
	return out
}

// recordingForwarder captures enqueued commands.
type recordingForwarder struct {
	mu       sync.Mutex
	commands []State
}

func (f *recordingForwarder) Enqueue(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, s)
}

func (f *recordingForwarder) enqueued() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]State, len(f.commands))
	copy(out, f.commands)
	return out
}

func newTestCore(readings ReadingRepository, state StateRepository, fwd CommandForwarder) *Core {
	return NewCore(readings, state, fwd, logging.Default())
}

// collect drains n events from a subscriber with a deadline.
func collect(t *testing.T, sub *Subscriber, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	deadline := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case ev := <-sub.C:
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events: got %d, want %d", len(events), n)
		}
	}
	return events
}

func TestIngestPersistsAndBroadcastsOnce(t *testing.T) {
	readings := &memReadingRepo{}
	core := newTestCore(readings, &memStateRepo{}, nil)

	sub1 := core.Subscribe()
	sub2 := core.Subscribe()
	defer core.Unsubscribe(sub1)
	defer core.Unsubscribe(sub2)

	payload := []byte(`{"device":"esp32","sensors":[{"type":"light","value":23.7}]}`)
	batch, err := core.Ingest(context.Background(), payload)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if batch.Device != "esp32" {
		t.Errorf("batch device = %q, want esp32", batch.Device)
	}
	if readings.count() != 1 {
		t.Errorf("persisted batches = %d, want 1", readings.count())
	}

	for _, sub := range []*Subscriber{sub1, sub2} {
		evs := collect(t, sub, 1)
		if evs[0].Name != EventSensorUpdate {
			t.Errorf("event name = %q, want %q", evs[0].Name, EventSensorUpdate)
		}
		got, ok := evs[0].Payload.(*Batch)
		if !ok || got.Device != "esp32" {
			t.Errorf("event payload = %+v, want the ingested batch", evs[0].Payload)
		}
		// Exactly once: no extra event buffered.
		select {
		case ev := <-sub.C:
			t.Errorf("unexpected extra event: %+v", ev)
		default:
		}
	}
}

func TestIngestInvalidPayloadNoWriteNoEvent(t *testing.T) {
	readings := &memReadingRepo{}
	core := newTestCore(readings, &memStateRepo{}, nil)

	sub := core.Subscribe()
	defer core.Unsubscribe(sub)

	_, err := core.Ingest(context.Background(), []byte(`{"device":"esp32"}`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Ingest() error = %v, want *ValidationError", err)
	}
	if readings.count() != 0 {
		t.Errorf("persisted batches = %d, want 0", readings.count())
	}
	select {
	case ev := <-sub.C:
		t.Errorf("unexpected event on rejected ingest: %+v", ev)
	default:
	}
}

func TestIngestStorageFailureNoEvent(t *testing.T) {
	readings := &memReadingRepo{failing: true}
	core := newTestCore(readings, &memStateRepo{}, nil)

	sub := core.Subscribe()
	defer core.Unsubscribe(sub)

	_, err := core.Ingest(context.Background(),
		[]byte(`{"device":"esp32","sensors":[{"type":"light","value":1}]}`))
	if err == nil {
		t.Fatal("Ingest() succeeded with failing storage")
	}
	select {
	case ev := <-sub.C:
		t.Errorf("unexpected event on failed ingest: %+v", ev)
	default:
	}
}

func TestSetActuatorState(t *testing.T) {
	state := &memStateRepo{}
	fwd := &recordingForwarder{}
	core := newTestCore(&memReadingRepo{}, state, fwd)

	sub := core.Subscribe()
	defer core.Unsubscribe(sub)

	got, err := core.SetActuatorState(context.Background(), []byte(`{"ledRed":1,"ledGreen":0}`))
	if err != nil {
		t.Fatalf("SetActuatorState() error: %v", err)
	}
	want := State{Red: 1, Green: 0}
	if got != want {
		t.Errorf("SetActuatorState() = %+v, want %+v", got, want)
	}

	stored, _ := core.GetActuatorState(context.Background())
	if stored != want {
		t.Errorf("GetActuatorState() = %+v, want %+v", stored, want)
	}

	if cmds := fwd.enqueued(); len(cmds) != 1 || cmds[0] != want {
		t.Errorf("forwarded commands = %+v, want [%+v]", cmds, want)
	}

	evs := collect(t, sub, 1)
	if evs[0].Name != EventLEDUpdate {
		t.Errorf("event name = %q, want %q", evs[0].Name, EventLEDUpdate)
	}
	if payload, ok := evs[0].Payload.(State); !ok || payload != want {
		t.Errorf("event payload = %+v, want %+v", evs[0].Payload, want)
	}
}

func TestSetActuatorStateInvalidCommand(t *testing.T) {
	state := &memStateRepo{}
	core := newTestCore(&memReadingRepo{}, state, nil)

	sub := core.Subscribe()
	defer core.Unsubscribe(sub)

	_, err := core.SetActuatorState(context.Background(), []byte(`{"ledRed":1}`))
	if !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("SetActuatorState() error = %v, want ErrInvalidCommand", err)
	}
	if len(state.setHistory()) != 0 {
		t.Error("state written for invalid command")
	}
	select {
	case ev := <-sub.C:
		t.Errorf("unexpected event for invalid command: %+v", ev)
	default:
	}
}

func TestSetActuatorStateStorageFailure(t *testing.T) {
	state := &memStateRepo{failing: true}
	fwd := &recordingForwarder{}
	core := newTestCore(&memReadingRepo{}, state, fwd)

	_, err := core.SetActuatorState(context.Background(), []byte(`{"ledRed":1,"ledGreen":1}`))
	if err == nil {
		t.Fatal("SetActuatorState() succeeded with failing storage")
	}
	if len(fwd.enqueued()) != 0 {
		t.Error("command forwarded despite storage failure")
	}
}

// Concurrent commands must produce the same total order in the store and
// in the led_update stream of every subscriber.
func TestConcurrentCommandsTotalOrder(t *testing.T) {
	state := &memStateRepo{}
	core := newTestCore(&memReadingRepo{}, state, nil)

	// A large buffer so no events are dropped during the burst.
	const commands = 16
	sub := &Subscriber{C: make(chan Event, commands*2)}
	core.broker.mu.Lock()
	core.broker.subs[sub] = struct{}{}
	core.broker.mu.Unlock()
	defer core.Unsubscribe(sub)

	var wg sync.WaitGroup
	for i := 0; i < commands; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf(`{"ledRed":%d,"ledGreen":%d}`, i%2, (i/2)%2)
			if _, err := core.SetActuatorState(context.Background(), []byte(payload)); err != nil {
				t.Errorf("SetActuatorState() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	evs := collect(t, sub, commands)
	history := state.setHistory()
	if len(history) != commands {
		t.Fatalf("persisted %d states, want %d", len(history), commands)
	}

	for i, ev := range evs {
		if ev.Name != EventLEDUpdate {
			t.Fatalf("event %d name = %q, want %q", i, ev.Name, EventLEDUpdate)
		}
		if got := ev.Payload.(State); got != history[i] {
			t.Errorf("event %d = %+v, persisted order has %+v", i, got, history[i])
		}
	}

	// Final stored state equals the last broadcast state.
	final, _ := core.GetActuatorState(context.Background())
	if final != history[len(history)-1] {
		t.Errorf("final state %+v differs from last persisted %+v", final, history[len(history)-1])
	}
}

func TestNotifyBroadcastsServerMessage(t *testing.T) {
	core := newTestCore(&memReadingRepo{}, &memStateRepo{}, nil)

	sub := core.Subscribe()
	defer core.Unsubscribe(sub)

	core.Notify(ServerMessage{Type: "error", Text: "device unreachable"})

	evs := collect(t, sub, 1)
	if evs[0].Name != EventServerMessage {
		t.Errorf("event name = %q, want %q", evs[0].Name, EventServerMessage)
	}
	msg := evs[0].Payload.(ServerMessage)
	if msg.Type != "error" || msg.Text != "device unreachable" {
		t.Errorf("message = %+v", msg)
	}
}

func TestGetLatestDelegates(t *testing.T) {
	readings := &memReadingRepo{}
	core := newTestCore(readings, &memStateRepo{}, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		payload := fmt.Sprintf(`{"device":"esp32","sensors":[{"type":"light","value":%d}]}`, i)
		if _, err := core.Ingest(ctx, []byte(payload)); err != nil {
			t.Fatalf("Ingest() error: %v", err)
		}
	}

	latest, err := core.GetLatest(ctx, "light", 2)
	if err != nil {
		t.Fatalf("GetLatest() error: %v", err)
	}
	if len(latest) != 2 || latest[0].Value != 3 {
		t.Errorf("GetLatest() = %+v, want newest-first capped at 2", latest)
	}
}
