package sanitize

// Card numbers carry between 13 and 19 digits.
const (
	minCardDigits = 13
	maxCardDigits = 19
)

// LuhnValid reports whether s, ignoring space and dash separators, is a
// digit run of card length that passes the Luhn checksum. Any other
// character makes it invalid.
func LuhnValid(s string) bool {
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, c-'0')
		case c == ' ' || c == '-':
		default:
			return false
		}
	}
	if len(digits) < minCardDigits || len(digits) > maxCardDigits {
		return false
	}
	return luhnSum(digits)%10 == 0
}

// luhnSum walks the digits from the right, doubling every second one and
// folding doubled values above 9 back into a single digit.
func luhnSum(digits []byte) int {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i])
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum
}
