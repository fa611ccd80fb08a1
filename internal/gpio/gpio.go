// Package gpio drives and samples single BCM header pins through the Linux
// GPIO character device. Values are logical: true means "active" after any
// active-low inversion.
package gpio

import "fmt"

// Line is a requested GPIO line.
type Line interface {
	Value() (bool, error)
	Set(active bool) error
	Close() error
}

type Bias int

const (
	BiasNone Bias = iota
	BiasPullUp
	BiasPullDown
)

// Config selects a pin and how it is requested.
type Config struct {
	// Chip is tried first, e.g. "gpiochip0"; other chips are searched after.
	Chip string
	// Pin is the BCM number; the line is looked up by name "GPIO<pin>".
	Pin       int
	ActiveLow bool
	Bias      Bias
	Consumer  string
}

func (c Config) lineName() string { return fmt.Sprintf("GPIO%d", c.Pin) }

func (c Config) validate() error {
	if c.Pin <= 0 {
		return fmt.Errorf("gpio: invalid pin %d", c.Pin)
	}
	return nil
}
