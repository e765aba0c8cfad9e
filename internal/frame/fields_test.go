package frame

import (
	"math"
	"testing"
	"time"
)

func TestFixed88RoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		for f := 0; f < 256; f++ {
			v := NewFixed88(uint8(i), uint8(f)).Float()
			want := float64(i) + float64(f)/256
			if math.Abs(v-want) > 1.0/256 {
				t.Fatalf("(%d,%d) -> %v, want %v", i, f, v, want)
			}
			back := Fixed88FromFloat(v)
			if back.Int() != uint8(i) || back.Frac() != uint8(f) {
				t.Fatalf("(%d,%d) -> %v -> (%d,%d)", i, f, v, back.Int(), back.Frac())
			}
		}
	}
}

func TestFixed16At(t *testing.T) {
	b := []byte{0x12, 0x80, 0x07}
	if got := Fixed16At(b, 0); got != 0x1280 {
		t.Errorf("Fixed16At(0) = 0x%04X", got)
	}
	if got := Fixed16At(b, 0).Float(); got != 18.5 {
		t.Errorf("Float = %v, want 18.5", got)
	}
	if got := Fixed16At(b, 2); got != InvalidFixed {
		t.Errorf("Fixed16At(2) = 0x%04X, want sentinel", got)
	}
	if got := Fixed16At(b, -1); got != InvalidFixed {
		t.Errorf("Fixed16At(-1) = 0x%04X, want sentinel", got)
	}
}

func TestFixed24(t *testing.T) {
	b := make([]byte, 3)
	PutFixed24(b, 65.25)
	if b[0] != 0x00 || b[1] != 0x41 || b[2] != 0x40 {
		t.Fatalf("PutFixed24 = % X", b)
	}
	v, ok := Fixed24At(b, 0)
	if !ok || v != 65.25 {
		t.Fatalf("Fixed24At = %v, %v", v, ok)
	}
	if _, ok := Fixed24At(b, 1); ok {
		t.Error("Fixed24At should fail past the end")
	}
	v, _ = Fixed24At([]byte{0x01, 0x00, 0x80}, 0)
	if v != 256.5 {
		t.Errorf("Fixed24At = %v, want 256.5", v)
	}
}

func TestUint24(t *testing.T) {
	b := make([]byte, 3)
	PutUint24(b, 0x012345)
	v, ok := Uint24At(b, 0)
	if !ok || v != 0x012345 {
		t.Fatalf("Uint24At = 0x%X, %v", v, ok)
	}
}

func TestDateTimeRoundTrip(t *testing.T) {
	for _, year := range []uint16{0, 19, 2019, 2026, 4095} {
		for month := uint8(1); month <= 12; month++ {
			for day := uint8(1); day <= 31; day += 3 {
				for hour := uint8(0); hour < 24; hour += 5 {
					for _, ms := range []uint16{0, 1, 255, 256, 512, 999} {
						d := DateTime{Year: year, Month: month, Day: day, Hour: hour, Minute: 59 - hour, Second: hour * 2, Millisecond: ms}
						p := PackDateTime(d)
						got, err := UnpackDateTime(p[:])
						if err != nil {
							t.Fatal(err)
						}
						if got != d {
							t.Fatalf("round trip %+v -> % X -> %+v", d, p, got)
						}
					}
				}
			}
		}
	}
}

func TestPackDateTimeLayout(t *testing.T) {
	// 2019-12-31 23:59:58.999
	d := DateTime{Year: 2019, Month: 12, Day: 31, Hour: 23, Minute: 59, Second: 58, Millisecond: 999}
	got := PackDateTime(d)
	want := [8]byte{
		0x00,
		0x0F, // 2019 >> 7 = 15
		0xC7, // (2019 & 0x7F) = 0x63 << 1 = 0xC6 | month bit 3
		0x9F, // month low bits 100 << 5 | day 31
		0x05, // hour 23 = 10111, bits 4-2 = 101
		0xFB, // hour bits 1-0 = 11 << 6 | 59
		0xEB, // 58 << 2 | 999 >> 8 (3)
		0xE7, // 999 & 0xFF
	}
	if got != want {
		t.Fatalf("PackDateTime = % X, want % X", got, want)
	}
}

func TestUnpackDateTimeShort(t *testing.T) {
	if _, err := UnpackDateTime(make([]byte, 7)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestDateTimeFromTime(t *testing.T) {
	ts := time.Date(2026, time.October, 19, 8, 30, 15, 250*int(time.Millisecond), time.UTC)
	d := DateTimeFromTime(ts)
	if !d.Time(time.UTC).Equal(ts) {
		t.Fatalf("Time() = %v, want %v", d.Time(time.UTC), ts)
	}
	if d.String() != "10/19/2026 08:30:15" {
		t.Errorf("String() = %q", d.String())
	}
}

func TestDecodeText(t *testing.T) {
	contiguous := EncodeText("Main St NB", 32)
	packed := PackText("Main St NB", 64)

	s1, n1, ok1 := DecodeText(contiguous, 32, 64)
	s2, n2, ok2 := DecodeText(packed, 32, 64)
	if !ok1 || !ok2 {
		t.Fatal("decode failed")
	}
	if s1 != "Main St NB" || s2 != s1 {
		t.Errorf("contiguous %q packed %q", s1, s2)
	}
	if n1 != 32 || n2 != 64 {
		t.Errorf("consumed %d and %d", n1, n2)
	}
	if _, _, ok := DecodeText(packed[:63], 32, 64); ok {
		t.Error("short packed field should fail")
	}
	if got := EncodeText("this string is longer than sixteen", 16); len(got) != 16 || string(got) != "this string is l" {
		t.Errorf("EncodeText truncation = %q", got)
	}
}

func TestTrimNUL(t *testing.T) {
	cases := map[string]string{
		"SS125\x00\x00\x00": "SS125",
		"\x00junk":          "",
		"full":              "full",
		"a\x00b\x00":        "a",
	}
	for in, want := range cases {
		if got := TrimNUL([]byte(in)); got != want {
			t.Errorf("TrimNUL(%q) = %q, want %q", in, got, want)
		}
	}
}
