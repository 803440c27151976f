package adc

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"periph.io/x/conn/v3/analog"
)

type scriptedReader struct {
	codes []int32
	fail  map[int]bool
	n     int
}

func (r *scriptedReader) Read() (analog.Sample, error) {
	i := r.n
	r.n++
	if r.fail[i] {
		return analog.Sample{}, errors.New("conversion timeout")
	}
	return analog.Sample{Raw: r.codes[i%len(r.codes)]}, nil
}

func TestAcquireTruncates(t *testing.T) {
	tests := []struct {
		name  string
		codes []int32
		want  int32
	}{
		{"constant", []int32{1000}, 1000},
		{"sum 8007 floors", []int32{1000, 1001, 1001, 1001, 1001, 1001, 1001, 1001}, 1000},
		{"sum 8015 floors", []int32{1001, 1002, 1002, 1002, 1002, 1002, 1002, 1002}, 1001},
		{"full scale", []int32{4095}, 4095},
		{"zero", []int32{0}, 0},
		{"far past full scale", []int32{999999999}, 999999999},
		{"negative", []int32{-5}, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSampler(&scriptedReader{codes: tt.codes})
			if got := s.AcquireRaw(); got != tt.want {
				t.Errorf("AcquireRaw = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAcquireVoltage(t *testing.T) {
	codes := []int32{2047, 2048, 2048, 2048, 2048, 2048, 2048, 2049}
	s := NewSampler(&scriptedReader{codes: codes})
	got := s.Acquire()
	want := float64(2048) * 3.3 / 4095 * 2.0
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Acquire = %v, want %v", got, want)
	}
	if full := Voltage(FullScaleCode); math.Abs(full-6.6) > 1e-12 {
		t.Errorf("Voltage(full scale) = %v, want 6.6", full)
	}
}

func TestAcquireReusesLastCodeOnError(t *testing.T) {
	r := &scriptedReader{codes: []int32{800}, fail: map[int]bool{3: true, 4: true}}
	s := NewSampler(r)
	if got := s.AcquireRaw(); got != 800 {
		t.Errorf("AcquireRaw = %d, want 800", got)
	}
	if s.ReadErrors() != 2 {
		t.Errorf("ReadErrors = %d, want 2", s.ReadErrors())
	}
	if r.n != Oversample {
		t.Errorf("reads = %d, want %d", r.n, Oversample)
	}
}

func TestIIORead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in_voltage2_raw")
	if err := os.WriteFile(path, []byte("1234\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := OpenIIO(dir, 2)
	if err != nil {
		t.Fatalf("OpenIIO: %v", err)
	}
	defer p.Close()

	for i := 0; i < 2; i++ {
		smp, err := p.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if smp.Raw != 1234 {
			t.Errorf("Raw = %d, want 1234", smp.Raw)
		}
	}

	if err := os.WriteFile(path, []byte("12a4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Read(); !errors.Is(err, ErrBadReading) {
		t.Errorf("Read error = %v, want %v", err, ErrBadReading)
	}
}

func TestParseCode(t *testing.T) {
	tests := []struct {
		in   string
		want int32
		ok   bool
	}{
		{"0\n", 0, true},
		{"4095", 4095, true},
		{" 17 \n", 17, true},
		{"", 0, false},
		{"-3\n", 0, false},
		{"1234567890", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseCode([]byte(tt.in))
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseCode(%q) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
