package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaunagostinho/sshdlink/internal/sensor"
)

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := "sensor:\n  transport: serial\n  serial:\n    port_path: /dev/ttyS1\n    baud_rate: 38400\n  link:\n    read_timeout: 1s\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("# comment\nLOG_MAX_LINES=\"123\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_MAX_LINES", "")
	t.Setenv("SENSOR_ID", "0x0168")
	t.Setenv("STREAM_INTERVAL", "15")

	cfg := LoadConfig(path)
	if cfg.Sensor.Transport != sensor.TransportSerial || cfg.Sensor.Serial.PortPath != "/dev/ttyS1" || cfg.Sensor.Serial.BaudRate != 38400 {
		t.Errorf("sensor = %+v", cfg.Sensor)
	}
	if cfg.LinkConfig().ReadTimeout != time.Second {
		t.Errorf("read timeout = %v", cfg.LinkConfig().ReadTimeout)
	}
	if cfg.Sensor.Device.ID != 0x0168 {
		t.Errorf("device id = %#x", cfg.Sensor.Device.ID)
	}
	if cfg.StreamOptions().Push.DataInterval != 15 {
		t.Errorf("interval = %d", cfg.Stream.Push.DataInterval)
	}
	if cfg.Logging.MaxLines != 123 {
		t.Errorf("max lines from .env = %d", cfg.Logging.MaxLines)
	}
	// Defaults fill what the file leaves out.
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen = %q", cfg.Server.ListenAddr)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.path = path
	cfg.Stream.Target = 3
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	got := LoadConfig(path)
	if got.Stream.Target != 3 || got.Sensor.Transport != sensor.TransportDemo {
		t.Errorf("reloaded = %+v", got.Stream)
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]interface{}{
		"a": map[string]interface{}{"x": 1.0, "y": 2.0},
		"b": "keep",
	}
	deepMerge(dst, map[string]interface{}{
		"a": map[string]interface{}{"y": 3.0},
		"c": true,
	})
	a := dst["a"].(map[string]interface{})
	if a["x"] != 1.0 || a["y"] != 3.0 || dst["b"] != "keep" || dst["c"] != true {
		t.Errorf("merged = %v", dst)
	}
}
