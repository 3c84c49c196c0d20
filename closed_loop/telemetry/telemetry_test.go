package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"go.einride.tech/can"

	"diffdrive-core/closed_loop/calval"
	control "diffdrive-core/closed_loop/drive_control"
	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

func quietLogger() *utils.Logger { return utils.NewLogger(io.Discard, utils.TRACE) }

type recordingSink struct {
	odoms    int
	statuses int
	events   []calval.Event
}

func (r *recordingSink) PublishOdometry(control.OdomState) { r.odoms++ }
func (r *recordingSink) PublishStatus(control.Status)      { r.statuses++ }
func (r *recordingSink) Observe(e calval.Event)            { r.events = append(r.events, e) }

func TestFanout(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := NewFanout(a)
	f.Add(b)
	f.PublishOdometry(control.OdomState{})
	f.PublishStatus(control.Status{})
	f.Observe(calval.Event{Procedure: "pid"})
	for i, s := range []*recordingSink{a, b} {
		if s.odoms != 1 || s.statuses != 1 || len(s.events) != 1 {
			t.Errorf("sink %d: expected one of each, got %+v", i, s)
		}
	}
	if f.Len() != 2 {
		t.Errorf("expected 2 sinks, got %d", f.Len())
	}
}

func TestThrottle(t *testing.T) {
	th := throttle{periodMs: 100}
	tests := []struct {
		now  uint32
		want bool
	}{
		{5, true},
		{50, false},
		{104, false},
		{105, true},
		{300, true},
	}
	for _, tt := range tests {
		if got := th.ready(tt.now); got != tt.want {
			t.Errorf("ready(%d): expected %v, got %v", tt.now, tt.want, got)
		}
	}
	free := throttle{}
	if !free.ready(1) || !free.ready(1) {
		t.Error("expected zero period to pass everything")
	}
}

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	msgs []published
	err  error
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.msgs = append(f.msgs, published{topic, retained, payload.([]byte)})
	return fakeToken{f.err}
}

func TestMQTTPublisher(t *testing.T) {
	clk := hal.NewManualClock(1000)
	client := &fakeMQTT{}
	p := newMQTTPublisher(client, DefaultMQTTConfig(), clk, quietLogger())

	p.PublishOdometry(control.OdomState{X: 1.5})
	p.PublishOdometry(control.OdomState{X: 1.6}) // throttled
	clk.Advance(100)
	p.PublishOdometry(control.OdomState{X: 1.7})
	p.Observe(calval.Event{Procedure: "linear", Stage: calval.Calibrate, State: calval.StateDone})

	if len(client.msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(client.msgs))
	}
	if client.msgs[0].topic != "robot/odom" || !client.msgs[0].retained {
		t.Errorf("expected retained robot/odom, got %+v", client.msgs[0])
	}
	var odom control.OdomState
	if err := json.Unmarshal(client.msgs[1].payload, &odom); err != nil || odom.X != 1.7 {
		t.Errorf("expected x 1.7, got %+v (%v)", odom, err)
	}
	ev := client.msgs[2]
	if ev.topic != "robot/calval" || ev.retained {
		t.Errorf("expected robot/calval event, got %+v", ev)
	}
	if !strings.Contains(string(ev.payload), `"stage":"CALIBRATE"`) || !strings.Contains(string(ev.payload), `"state":"DONE"`) {
		t.Errorf("expected named stage and state, got %s", ev.payload)
	}
}

func TestMQTTPublishErrorIsLogged(t *testing.T) {
	client := &fakeMQTT{err: errors.New("broker gone")}
	p := newMQTTPublisher(client, DefaultMQTTConfig(), hal.NewManualClock(0), quietLogger())
	p.Observe(calval.Event{Procedure: "motor"})
	if len(client.msgs) != 1 {
		t.Errorf("expected the publish attempt, got %d", len(client.msgs))
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (w *fakeWriter) WriteFrame(_ context.Context, f can.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, f)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func mustDefaultMap(t *testing.T) *utils.CANMap {
	t.Helper()
	m, err := DefaultCANMap()
	if err != nil {
		t.Fatalf("default can map: %v", err)
	}
	return m
}

func TestCANPublisherOdometry(t *testing.T) {
	cmap := mustDefaultMap(t)
	clk := hal.NewManualClock(0)
	w := &fakeWriter{}
	p, err := NewCANPublisher(context.Background(), cmap, w, clk, quietLogger())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	p.PublishOdometry(control.OdomState{X: 1.234, Y: -0.5, Heading: -3.1, Linear: 0.2, Angular: -0.5})
	p.PublishOdometry(control.OdomState{X: 9}) // inside the 50 ms cycle
	if len(w.frames) != 2 {
		t.Fatalf("expected pose and velocity frames, got %d", len(w.frames))
	}
	pose, err := cmap.DecodeEinrideFrame(w.frames[0])
	if err != nil {
		t.Fatalf("decode pose: %v", err)
	}
	if d := pose["x"] - 1.234; d > 1e-9 || d < -1e-9 {
		t.Errorf("expected x 1.234, got %v", pose["x"])
	}
	if d := pose["heading"] + 3.1; d > 1e-4 || d < -1e-4 {
		t.Errorf("expected heading -3.1, got %v", pose["heading"])
	}
	vel, _ := cmap.DecodeEinrideFrame(w.frames[1])
	if d := vel["angular"] + 0.5; d > 1e-9 || d < -1e-9 {
		t.Errorf("expected angular -0.5, got %v", vel["angular"])
	}

	clk.Advance(50)
	p.PublishOdometry(control.OdomState{})
	if p.Sent() != 4 {
		t.Errorf("expected 4 frames after a cycle, got %d", p.Sent())
	}
}

func TestCANPublisherEvents(t *testing.T) {
	cmap := mustDefaultMap(t)
	w := &fakeWriter{}
	p, err := NewCANPublisher(context.Background(), cmap, w, hal.NewManualClock(0), quietLogger())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	p.Observe(calval.Event{Procedure: "angular", Stage: calval.Validate, State: calval.StateRunning})
	p.Observe(calval.Event{Procedure: "angular", Stage: calval.Validate, State: calval.StateDone, Failed: true})
	if len(w.frames) != 2 {
		t.Fatalf("expected every event sent, got %d frames", len(w.frames))
	}
	v, _ := cmap.DecodeEinrideFrame(w.frames[1])
	if v["procedure"] != 4 || v["stage"] != 1 || v["state"] != float64(calval.StateDone) || v["failed"] != 1 {
		t.Errorf("unexpected event frame %v", v)
	}
}

type fakeReader struct {
	frames chan can.Frame
}

func (r *fakeReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f, ok := <-r.frames:
		if !ok {
			return can.Frame{}, utils.ErrReaderClosed
		}
		return f, nil
	}
}

func (r *fakeReader) Close() error { return nil }

func TestCANCommandSource(t *testing.T) {
	cmap := mustDefaultMap(t)
	clk := hal.NewManualClock(0)
	buf := control.NewCommandBuffer(clk)
	r := &fakeReader{frames: make(chan can.Frame, 4)}
	src, err := NewCANCommandSource(cmap, r, buf, quietLogger())
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	cmd, _ := cmap.EncodeEinrideFrame(FrameCmdVel, map[string]float64{"linear": 0.25, "angular": -0.75})
	ctrl, _ := cmap.EncodeEinrideFrame(FrameDeviceCtrl, map[string]float64{"control": float64(control.ControlClearOdometry)})
	unknown := can.Frame{ID: 0x7FF, Length: 1}
	r.frames <- cmd
	r.frames <- unknown
	r.frames <- ctrl
	close(r.frames)

	if err := src.Run(context.Background()); !errors.Is(err, utils.ErrReaderClosed) {
		t.Fatalf("expected reader closed, got %v", err)
	}
	lin, ang, age := buf.Read()
	if d := lin - 0.25; d > 1e-9 || d < -1e-9 || ang > -0.749 || ang < -0.751 || age != 0 {
		t.Errorf("expected fresh command (0.25, -0.75), got (%v, %v) age %d", lin, ang, age)
	}
	bits, ok := src.DeviceControl()
	if !ok || bits != control.ControlClearOdometry {
		t.Errorf("expected clear odometry control, got %d %v", bits, ok)
	}
	if _, ok := src.DeviceControl(); ok {
		t.Error("expected control word to be consumed")
	}
}

func TestCANCommandSourceStopsOnCancel(t *testing.T) {
	cmap := mustDefaultMap(t)
	src, err := NewCANCommandSource(cmap, &fakeReader{frames: make(chan can.Frame)},
		control.NewCommandBuffer(hal.NewManualClock(0)), quietLogger())
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := src.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestHubBroadcastAndActions(t *testing.T) {
	clk := hal.NewManualClock(0)
	hub := NewHub(clk, quietLogger(), 0)
	actions := make(chan Action, 1)
	hub.OnAction(func(a Action) { actions <- a })
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.Clients())
	}

	hub.Observe(calval.Event{Procedure: "motor", State: calval.StateStart})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string `json:"type"`
		Data struct {
			Procedure string `json:"procedure"`
			State     string `json:"state"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "event" || msg.Data.Procedure != "motor" || msg.Data.State != "START" {
		t.Errorf("expected motor event, got %+v", msg)
	}

	if err := conn.WriteJSON(Action{Action: "abort"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case a := <-actions:
		if a.Action != "abort" {
			t.Errorf("expected abort action, got %q", a.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected action callback")
	}
}

func TestSerialOptions(t *testing.T) {
	o := serialOptions(SerialConfig{Port: "/dev/ttyUSB0", Baud: 115200})
	if o.PortName != "/dev/ttyUSB0" || o.BaudRate != 115200 || o.DataBits != 8 || o.StopBits != 1 {
		t.Errorf("unexpected serial options %+v", o)
	}
}
