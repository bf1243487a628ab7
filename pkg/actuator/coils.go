package actuator

import (
	"fmt"
	"io"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOCoils drives the four motor inputs (IN1..IN4 on a ULN2003 board)
// from GPIO pins.
type GPIOCoils struct {
	pins [4]gpio.PinOut
}

// NewGPIOCoils configures the named pins as outputs, initially low.
func NewGPIOCoils(names []string) (*GPIOCoils, error) {
	if len(names) != 4 {
		return nil, fmt.Errorf("need 4 coil pins, got %d", len(names))
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}

	c := &GPIOCoils{}
	for i, name := range names {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("gpio pin %s not found", name)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("configure %s as output: %w", name, err)
		}
		c.pins[i] = pin
	}
	return c, nil
}

// Set implements Coils.
func (c *GPIOCoils) Set(phase [4]bool) error {
	for i, pin := range c.pins {
		if err := pin.Out(gpio.Level(phase[i])); err != nil {
			return fmt.Errorf("coil %d: %w", i+1, err)
		}
	}
	return nil
}

// Close de-energizes every coil.
func (c *GPIOCoils) Close() error {
	return c.Set(released)
}

// SerialCoils sends one byte per phase to a microcontroller bridge that
// owns the motor driver. Bit n of the byte is coil n+1.
type SerialCoils struct {
	port io.WriteCloser
}

// OpenSerialCoils opens the bridge on path at the given baud rate.
func OpenSerialCoils(path string, baudRate int) (*SerialCoils, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial bridge %s: %w", path, err)
	}
	return &SerialCoils{port: port}, nil
}

// Set implements Coils.
func (c *SerialCoils) Set(phase [4]bool) error {
	_, err := c.port.Write([]byte{encodePhase(phase)})
	return err
}

// Close releases the coils and closes the port.
func (c *SerialCoils) Close() error {
	if err := c.Set(released); err != nil {
		_ = c.port.Close()
		return err
	}
	return c.port.Close()
}

func encodePhase(phase [4]bool) byte {
	var b byte
	for i, on := range phase {
		if on {
			b |= 1 << i
		}
	}
	return b
}
