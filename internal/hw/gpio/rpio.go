package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/skydb/internal/debug"
)

// ErrClosed is returned by drivers used after Close.
var ErrClosed = errors.New("gpio driver closed")

// RPiDriver drives Raspberry Pi pins through go-rpio's memory-mapped registers.
type RPiDriver struct {
	mu     sync.Mutex
	pins   map[int]rpio.Pin
	closed bool
}

// NewRPiRealDriver maps the GPIO registers. Requires /dev/gpiomem or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")
	return &RPiDriver{pins: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setup(pin, mode)
}

func (r *RPiDriver) setup(pin int, mode PinMode) error {
	if r.closed {
		return ErrClosed
	}
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return nil
}

// pin returns a configured pin, setting it up with mode on first use.
func (r *RPiDriver) pin(pin int, mode PinMode) (rpio.Pin, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if p, ok := r.pins[pin]; ok {
		return p, nil
	}
	if err := r.setup(pin, mode); err != nil {
		return 0, err
	}
	return r.pins[pin], nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.pin(pin, Output)
	if err != nil {
		return err
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.pin(pin, Input)
	if err != nil {
		return Low, err
	}
	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// Close returns every used pin to input, the safe state for the release
// cable, and unmaps the registers.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}
	return rpio.Close()
}
