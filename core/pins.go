package core

import "errors"

var ErrInvalidPin = errors.New("invalid pin name")

// ParsePin converts a pin name such as "gpio17" into a GPIOPin.
// The prefix is case-insensitive; a bare number is also accepted.
func ParsePin(name string) (GPIOPin, error) {
	digits := name
	if len(name) > 4 && lower(name[:4]) == "gpio" {
		digits = name[4:]
	}
	if digits == "" || len(digits) > 3 {
		return 0, ErrInvalidPin
	}
	n := uint32(0)
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, ErrInvalidPin
		}
		n = n*10 + uint32(c-'0')
	}
	return GPIOPin(n), nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
