package utils

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"go.einride.tech/can"
)

const header = "direction,frame_id,frame_name,cycle_ms,dlc,signal_name,start_bit,bit_length,endianness,signed,factor,offset,min,max,default,unit,comment\n"

func mustParse(t *testing.T, rows string) *CANMap {
	t.Helper()
	m, err := ParseCANMap(strings.NewReader(header + rows))
	if err != nil {
		t.Fatalf("ParseCANMap: %v", err)
	}
	return m
}

func TestLoadDrivetrainMap(t *testing.T) {
	m, err := LoadCANMap("../config/can/drivetrain_map.csv")
	if err != nil {
		t.Fatalf("LoadCANMap: %v", err)
	}
	for _, w := range []string{"LF", "LB", "RF", "RB"} {
		for _, prefix := range []string{"DRIVE_CMD_", "DRIVE_GAINS_", "DRIVE_LIMITS_", "DRIVE_STATUS_"} {
			if _, err := m.FrameByName(prefix + w); err != nil {
				t.Errorf("missing frame %s%s: %v", prefix, w, err)
			}
		}
	}
	if got := len(m.Frames(DirRX)); got != 6 {
		t.Errorf("rx frames = %d, want 6", got)
	}
	rx := m.Frames(DirRX)
	for i := 1; i < len(rx); i++ {
		if rx[i-1].ID > rx[i].ID {
			t.Fatalf("Frames not sorted by id: 0x%X before 0x%X", rx[i-1].ID, rx[i].ID)
		}
	}
}

func TestParseCANMapErrors(t *testing.T) {
	tests := []struct {
		name string
		rows string
		want string
	}{
		{
			name: "bad direction",
			rows: "up,0x10,F,0,1,a,0,8,little,false,1,0,0,0,0,,\n",
			want: "invalid direction",
		},
		{
			name: "zero factor",
			rows: "tx,0x10,F,0,1,a,0,8,little,false,0,0,0,0,0,,\n",
			want: "factor must be non-zero",
		},
		{
			name: "bits past dlc",
			rows: "tx,0x10,F,0,1,a,4,8,little,false,1,0,0,0,0,,\n",
			want: "exceed dlc",
		},
		{
			name: "big endian",
			rows: "tx,0x10,F,0,1,a,0,8,big,false,1,0,0,0,0,,\n",
			want: "unsupported endianness",
		},
		{
			name: "inconsistent dlc",
			rows: "tx,0x10,F,0,1,a,0,8,little,false,1,0,0,0,0,,\n" +
				"tx,0x10,F,0,2,b,8,8,little,false,1,0,0,0,0,,\n",
			want: "inconsistent DLC",
		},
		{
			name: "name reused",
			rows: "tx,0x10,F,0,1,a,0,8,little,false,1,0,0,0,0,,\n" +
				"tx,0x11,F,0,1,a,0,8,little,false,1,0,0,0,0,,\n",
			want: "reused",
		},
		{
			name: "bad number",
			rows: "tx,0x10,F,0,1,a,0,eight,little,false,1,0,0,0,0,,\n",
			want: "invalid bit_length",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCANMap(strings.NewReader(header + tt.rows))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseCANMapMissingColumn(t *testing.T) {
	_, err := ParseCANMap(strings.NewReader("direction,frame_id\n"))
	if err == nil || !strings.Contains(err.Error(), "missing required column") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseCANMapSkipsComments(t *testing.T) {
	m := mustParse(t, "# a comment line\ntx,0x10,F,0,1,a,0,8,little,false,1,0,0,0,0,,\n")
	if len(m.ByID) != 1 {
		t.Fatalf("frames = %d, want 1", len(m.ByID))
	}
}

func TestEncodeDecodeSigned(t *testing.T) {
	m := mustParse(t,
		"rx,0x300,STATUS,20,8,position,0,32,little,true,0.001,0,-2000000,2000000,0,rot,\n"+
			"rx,0x300,STATUS,20,8,velocity,32,16,little,true,1,0,-32768,32767,0,rpm,\n"+
			"rx,0x300,STATUS,20,8,current,48,8,little,false,0.5,0,0,127.5,0,A,\n")

	want := map[string]float64{"position": -12.345, "velocity": -4200, "current": 37.5}
	f, err := m.EncodeFrame("STATUS", want)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if f.ID != 0x300 || f.Length != 8 {
		t.Fatalf("frame header = 0x%X/%d", f.ID, f.Length)
	}
	fd, got, err := m.DecodeFrame(f)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if fd.Name != "STATUS" {
		t.Fatalf("decoded frame %s", fd.Name)
	}
	for k, v := range want {
		if math.Abs(got[k]-v) > 1e-9 {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	m := mustParse(t,
		"tx,0x230,IMU_CMD,0,1,calibrate,0,1,little,false,1,0,0,1,0,,\n"+
			"tx,0x230,IMU_CMD,0,1,reset,1,1,little,false,1,0,0,1,0,,\n")
	f, err := m.EncodeFrame("IMU_CMD", map[string]float64{"reset": 1})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f.Data[:f.Length], []byte{0x02}) {
		t.Fatalf("data = % X, want 02", f.Data[:f.Length])
	}
}

func TestEncodeClampsAndDefaults(t *testing.T) {
	m := mustParse(t,
		"tx,0x220,LIMITS,0,2,out_min,0,8,little,true,0.01,0,-1,0,-1,duty,\n"+
			"tx,0x220,LIMITS,0,2,out_max,8,8,little,true,0.01,0,0,1,1,duty,\n")

	f, err := m.EncodeFrame("LIMITS", map[string]float64{"out_max": 7})
	if err != nil {
		t.Fatal(err)
	}
	_, got, err := m.DecodeFrame(f)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got["out_min"]+1) > 1e-9 {
		t.Errorf("out_min = %v, want default -1", got["out_min"])
	}
	if math.Abs(got["out_max"]-1) > 1e-9 {
		t.Errorf("out_max = %v, want clamped 1", got["out_max"])
	}
}

func TestClampRaw(t *testing.T) {
	tests := []struct {
		raw    int64
		bits   int
		signed bool
		want   int64
	}{
		{300, 8, false, 255},
		{-5, 8, false, 0},
		{200, 8, true, 127},
		{-200, 8, true, -128},
		{42, 16, true, 42},
	}
	for _, tt := range tests {
		if got := clampRaw(tt.raw, tt.bits, tt.signed); got != tt.want {
			t.Errorf("clampRaw(%d, %d, %v) = %d, want %d", tt.raw, tt.bits, tt.signed, got, tt.want)
		}
	}
}

func TestUnknownFrame(t *testing.T) {
	m := mustParse(t, "tx,0x10,F,0,1,a,0,8,little,false,1,0,0,0,0,,\n")
	if _, err := m.EncodeFrame("NOPE", nil); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("EncodeFrame err = %v", err)
	}
	if _, _, err := m.DecodeFrame(can.Frame{ID: 0x99, Length: 1}); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("DecodeFrame err = %v", err)
	}
}

func TestDecodeShortFrame(t *testing.T) {
	m := mustParse(t, "rx,0x10,F,0,2,a,0,16,little,false,1,0,0,0,0,,\n")
	if _, _, err := m.DecodeFrame(can.Frame{ID: 0x10, Length: 1}); err == nil {
		t.Fatal("expected DLC error")
	}
}
