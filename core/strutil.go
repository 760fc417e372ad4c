package core

// itoa converts an integer to a string without using fmt package
// This is a lightweight alternative for embedded systems
func itoa(n int) string {
	if n < 0 {
		return "-" + utoa64(uint64(-n))
	}
	return utoa64(uint64(n))
}

// utoa converts an unsigned integer to a string
func utoa(n uint32) string {
	return utoa64(uint64(n))
}

// utoa64 builds the decimal form right to left in a fixed buffer
func utoa64(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

// Itoa is the exported form of itoa for packages that avoid fmt
func Itoa(n int) string {
	return itoa(n)
}

// FormatMilli renders v with three decimals, e.g. 12.345
func FormatMilli(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	milli := uint64(v*1000 + 0.5)
	frac := milli % 1000
	s := utoa64(milli/1000) + "."
	switch {
	case frac < 10:
		s += "00"
	case frac < 100:
		s += "0"
	}
	s += utoa64(frac)
	if neg {
		s = "-" + s
	}
	return s
}
