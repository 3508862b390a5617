package imageio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/cjeanneret/skydb/internal/envmap"
)

// PFM format errors.
var (
	ErrInvalidPFMMagic = errors.New("invalid PFM magic: expected 'PF' or 'Pf'")
	ErrTruncatedPFM    = errors.New("truncated PFM data")
	ErrInvalidPFMSize  = errors.New("invalid PFM dimensions")
)

// MaxPFMSamples caps width*height*channels accepted from a PFM header
// (2 GiB of float64 once decoded).
const MaxPFMSamples = 1 << 28

// DecodePFM reads a Portable Float Map. Rows are stored bottom-to-top; a
// negative scale means little-endian samples.
func DecodePFM(r io.Reader, layout envmap.Layout) (*envmap.EnvironmentMap, error) {
	br := bufio.NewReader(r)

	magic, err := pfmToken(br)
	if err != nil {
		return nil, err
	}
	var channels int
	switch magic {
	case "PF":
		channels = 3
	case "Pf":
		channels = 1
	default:
		return nil, ErrInvalidPFMMagic
	}

	var dims [2]int
	for i := range dims {
		tok, err := pfmToken(br)
		if err != nil {
			return nil, err
		}
		if dims[i], err = strconv.Atoi(tok); err != nil {
			return nil, fmt.Errorf("parse PFM dimension %q: %w", tok, err)
		}
	}
	tok, err := pfmToken(br)
	if err != nil {
		return nil, err
	}
	scale, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, fmt.Errorf("parse PFM scale %q: %w", tok, err)
	}
	var order binary.ByteOrder = binary.BigEndian
	if scale < 0 {
		order = binary.LittleEndian
	}

	width, height := dims[0], dims[1]
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidPFMSize, width, height)
	}
	if width > MaxPFMSamples/channels/height {
		return nil, fmt.Errorf("%w: %dx%dx%d exceeds %d samples", ErrInvalidPFMSize, width, height, channels, MaxPFMSamples)
	}
	m, err := envmap.New(layout, height, width, channels)
	if err != nil {
		return nil, err
	}

	row := make([]byte, width*channels*4)
	for y := height - 1; y >= 0; y-- {
		if _, err := io.ReadFull(br, row); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrTruncatedPFM, height-1-y, err)
		}
		base := m.Index(y, 0, 0)
		for i := 0; i < width*channels; i++ {
			m.Data[base+i] = float64(math.Float32frombits(order.Uint32(row[i*4:])))
		}
	}
	return m, nil
}

// pfmToken reads one whitespace-delimited header token. The single whitespace
// byte following the scale token is consumed with it.
func pfmToken(br *bufio.Reader) (string, error) {
	var tok []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			if len(tok) > 0 && err == io.EOF {
				return string(tok), nil
			}
			return "", fmt.Errorf("%w: header: %v", ErrTruncatedPFM, err)
		}
		if b == ' ' || b == '\n' || b == '\r' || b == '\t' {
			if len(tok) > 0 {
				return string(tok), nil
			}
			continue
		}
		tok = append(tok, b)
	}
}

// EncodePFM writes a little-endian Portable Float Map. Only 1- and 3-channel
// maps can be stored.
func EncodePFM(w io.Writer, m *envmap.EnvironmentMap) error {
	var magic string
	switch m.Channels {
	case 1:
		magic = "Pf"
	case 3:
		magic = "PF"
	default:
		return fmt.Errorf("PFM stores 1 or 3 channels, got %d", m.Channels)
	}

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s\n%d %d\n-1.0\n", magic, m.Width, m.Height); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for y := m.Height - 1; y >= 0; y-- {
		base := m.Index(y, 0, 0)
		for i := 0; i < m.Width*m.Channels; i++ {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(m.Data[base+i])))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
