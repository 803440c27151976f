package adc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"periph.io/x/conn/v3/analog"
)

const iioRoot = "/sys/bus/iio/devices"

var ErrBadReading = errors.New("adc: malformed iio reading")

// IIO reads one channel of a Linux industrial-I/O converter through sysfs.
type IIO struct {
	f    *os.File
	path string
	buf  [16]byte
}

// OpenIIO opens in_voltage<channel>_raw of device, either a name under
// /sys/bus/iio/devices such as "iio:device0" or an absolute directory.
func OpenIIO(device string, channel int) (*IIO, error) {
	dir := device
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(iioRoot, device)
	}
	path := filepath.Join(dir, fmt.Sprintf("in_voltage%d_raw", channel))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("adc: %w", err)
	}
	return &IIO{f: f, path: path}, nil
}

func (p *IIO) Read() (analog.Sample, error) {
	n, err := p.f.ReadAt(p.buf[:], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return analog.Sample{}, fmt.Errorf("adc: %s: %w", p.path, err)
	}
	raw, ok := parseCode(p.buf[:n])
	if !ok {
		return analog.Sample{}, fmt.Errorf("%w: %q", ErrBadReading, p.buf[:n])
	}
	return analog.Sample{Raw: raw}, nil
}

func (p *IIO) String() string {
	return p.path
}

func (p *IIO) Close() error {
	return p.f.Close()
}

// parseCode parses a decimal code followed by optional whitespace without
// allocating.
func parseCode(b []byte) (int32, bool) {
	var v int32
	digits := 0
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9':
			if digits == 9 {
				return 0, false
			}
			v = v*10 + int32(c-'0')
			digits++
		case c == '\n' || c == ' ' || c == '\t' || c == '\r':
			if digits > 0 {
				return v, true
			}
		default:
			return 0, false
		}
	}
	return v, digits > 0
}
