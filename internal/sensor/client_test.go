package sensor

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shaunagostinho/sshdlink/internal/command"
	"github.com/shaunagostinho/sshdlink/internal/frame"
	"github.com/shaunagostinho/sshdlink/internal/transport"
)

func newTestClient(t *testing.T) (*Client, *Simulator) {
	t.Helper()
	sim := NewSimulator(DefaultDeviceState())
	link := transport.NewLink(sim, nil, transport.Config{ReadTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { link.Close() })
	return NewClient(link, frame.Address{ID: 0x0168}), sim
}

func TestReadGeneralConfigEncodings(t *testing.T) {
	ctx := context.Background()
	for _, packed := range []bool{false, true} {
		c, sim := newTestClient(t)
		sim.SetPackedText(packed)
		got, err := c.ReadGeneralConfig(ctx)
		if err != nil {
			t.Fatalf("packed=%v: %v", packed, err)
		}
		if want := DefaultDeviceState().Config; got != want {
			t.Errorf("packed=%v: got %+v, want %+v", packed, got, want)
		}
	}
}

func TestWriteGeneralConfigEmptyStrings(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	want := command.SensorConfig{Orientation: command.West, Serial: "X1", Units: 1}
	if err := c.WriteGeneralConfig(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadGeneralConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	push := command.DataPushConfig{
		DataInterval:   60,
		IntervalMode:   command.IntervalFillOnce,
		Event:          command.PushDestination{Port: 1, Format: 2, Enabled: true, Dest: frame.Address{Subnet: 3, ID: 0x0404}},
		Interval:       command.PushDestination{Port: 2, Dest: frame.Address{ID: 0x0505}},
		LoopSeparation: frame.NewFixed88(12, 128),
		LoopSize:       frame.NewFixed88(6, 64),
	}
	if err := c.WriteDataPush(ctx, push); err != nil {
		t.Fatal(err)
	}
	if got, err := c.ReadDataPush(ctx); err != nil || got != push {
		t.Errorf("data push = %+v, %v", got, err)
	}

	if err := c.WriteGlobalPush(ctx, true); err != nil {
		t.Fatal(err)
	}
	if got, err := c.ReadGlobalPush(ctx); err != nil || !got {
		t.Errorf("global push = %v, %v", got, err)
	}

	uart := command.UARTPushFromBits(0x0A)
	if err := c.WriteUARTPush(ctx, uart); err != nil {
		t.Fatal(err)
	}
	if got, err := c.ReadUARTPush(ctx); err != nil || got != uart {
		t.Errorf("uart = %+v, %v", got, err)
	}

	approaches := []command.Approach{
		{Description: "East", Direction: 'E', Lanes: []uint8{1}},
		{Description: "West", Direction: 'W', Lanes: []uint8{2, 3}},
		{Description: "Ramp", Direction: 'N', Lanes: []uint8{4}},
	}
	if err := c.WriteApproaches(ctx, approaches); err != nil {
		t.Fatal(err)
	}
	at, err := c.ReadApproaches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if at.Returned != 3 || at.Configured != 3 || !reflect.DeepEqual(at.Approaches, approaches) {
		t.Errorf("approaches = %+v", at)
	}

	lanes := []command.Lane{{Description: "A", Direction: 'L'}, {Description: "", Direction: 'R'}}
	if err := c.WriteLanes(ctx, lanes); err != nil {
		t.Fatal(err)
	}
	lt, err := c.ReadLanes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(lt.Lanes, lanes) {
		t.Errorf("lanes = %+v, want %+v", lt.Lanes, lanes)
	}

	classes := []frame.Fixed88{frame.NewFixed88(8, 0), frame.NewFixed88(16, 128)}
	if err := c.WriteClassification(ctx, classes); err != nil {
		t.Fatal(err)
	}
	if got, err := c.ReadClassification(ctx); err != nil || !reflect.DeepEqual(got, classes) {
		t.Errorf("classification = %v, %v", got, err)
	}

	speeds := []frame.Fixed88{frame.NewFixed88(30, 0), frame.NewFixed88(command.SpeedCatchAll, 0)}
	if err := c.WriteSpeedBins(ctx, speeds); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadSpeedBins(ctx)
	if err != nil || !reflect.DeepEqual(got, speeds) {
		t.Errorf("speed bins = %v, %v", got, err)
	}
	if !command.IsCatchAll(got[len(got)-1]) {
		t.Error("last speed bin should be the catch-all")
	}
}

func TestDirectionBinsShareClockOffsetID(t *testing.T) {
	ctx := context.Background()
	c, sim := newTestClient(t)
	if err := c.WriteDirectionBins(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !sim.State().DirectionBins {
		t.Error("direction bins not enabled")
	}
}

func TestClockSyncAndOffset(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	set := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := c.SyncClock(ctx, set); err != nil {
		t.Fatal(err)
	}
	d, err := c.ReadClock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := d.Time(time.UTC).Sub(set); diff < 0 || diff > 2*time.Second {
		t.Errorf("clock = %s, want about %s", d, set)
	}

	if err := c.OffsetClock(ctx, -time.Hour); err != nil {
		t.Fatal(err)
	}
	d, _ = c.ReadClock(ctx)
	if diff := set.Sub(d.Time(time.UTC)); diff < 59*time.Minute || diff > time.Hour {
		t.Errorf("after offset clock = %s", d)
	}

	if err := c.OffsetClock(ctx, 20*time.Hour); !errors.Is(err, command.ErrInvalidValue) {
		t.Errorf("oversized offset err = %v", err)
	}
}

func TestWriteDeviceError(t *testing.T) {
	ctx := context.Background()
	c, sim := newTestClient(t)
	sim.InjectError(command.MsgDataPush, frame.CodeInvalidPushState)

	err := c.WriteDataPush(ctx, command.DataPushConfig{DataInterval: 10})
	var de *frame.DeviceError
	if !errors.As(err, &de) || de.Code != frame.CodeInvalidPushState {
		t.Fatalf("err = %v, want invalid push state", err)
	}

	// The injected error is one-shot.
	if err := c.WriteDataPush(ctx, command.DataPushConfig{DataInterval: 10}); err != nil {
		t.Errorf("second write: %v", err)
	}
}

func TestReadDeviceError(t *testing.T) {
	c, sim := newTestClient(t)
	sim.InjectError(command.MsgClock, frame.CodeFlashBusy)
	_, err := c.ReadClock(context.Background())
	var de *frame.DeviceError
	if !errors.As(err, &de) || de.Code != frame.CodeFlashBusy {
		t.Fatalf("err = %v, want flash busy", err)
	}
}

func TestReadTimeout(t *testing.T) {
	c, sim := newTestClient(t)
	sim.Silence(1)
	if _, err := c.ReadLanes(context.Background()); !errors.Is(err, frame.ErrReadTimeout) {
		t.Fatalf("err = %v, want read timeout", err)
	}
	if _, err := c.ReadLanes(context.Background()); err != nil {
		t.Errorf("after silence: %v", err)
	}
}

func TestBuilderRejectsBeforeSending(t *testing.T) {
	c, sim := newTestClient(t)
	err := c.WriteGeneralConfig(context.Background(), command.SensorConfig{Orientation: 'Q'})
	if !errors.Is(err, command.ErrInvalidValue) {
		t.Fatalf("err = %v", err)
	}
	if n := len(sim.Requests()); n != 0 {
		t.Errorf("%d requests reached the sensor", n)
	}
}

func TestReadAll(t *testing.T) {
	c, _ := newTestClient(t)
	snap, err := c.ReadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	st := DefaultDeviceState()
	if snap.General != st.Config || len(snap.Lanes.Lanes) != len(st.Lanes) {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.SpeedBins) != len(st.SpeedBins) || snap.SpeedBins[0] != 20 {
		t.Errorf("speed bins = %v", snap.SpeedBins)
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		cfg     Config
		want    string
		wantErr bool
	}{
		{Config{Transport: TransportSerial, Serial: transport.SerialConfig{PortPath: "/dev/ttyUSB0"}}, "Serial /dev/ttyUSB0", false},
		{Config{Transport: TransportTCP, Address: "10.0.0.5:10001"}, "TCP 10.0.0.5:10001", false},
		{Config{Transport: TransportDemo}, "Demo (Simulated)", false},
		{Config{Transport: TransportTCP}, "", true},
		{Config{Transport: "carrier-pigeon"}, "", true},
	}
	for _, tt := range tests {
		p, err := NewProvider(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("%+v: err = %v", tt.cfg, err)
			continue
		}
		if err == nil && p.Name() != tt.want {
			t.Errorf("Name() = %q, want %q", p.Name(), tt.want)
		}
	}
}

func TestDemoProviderReconnect(t *testing.T) {
	ctx := context.Background()
	p := NewDemoProvider()
	for i := 0; i < 2; i++ {
		if err := p.Connect(ctx); err != nil {
			t.Fatal(err)
		}
		if !p.IsConnected() {
			t.Fatal("not connected")
		}
		link := transport.NewLink(p.Stream(), nil, transport.Config{ReadTimeout: 50 * time.Millisecond})
		c := NewClient(link, frame.Address{})
		if _, err := c.ReadGlobalPush(ctx); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		link.Close()
		p.Close()
		if p.IsConnected() {
			t.Fatal("still connected after Close")
		}
	}
}
