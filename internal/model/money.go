package model

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Cents is a monetary amount with two decimal places, stored as an integer
// number of hundredths. It maps to DECIMAL(10,2) in MySQL and to a plain JSON
// number such as 12.5 on the wire.
type Cents int64

// MaxCents is the largest amount DECIMAL(10,2) can hold.
const MaxCents Cents = 99_999_999_99

var ErrInvalidAmount = errors.New("invalid amount")

// ParseCents parses a decimal string with at most two fractional digits.
func ParseCents(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return 0, ErrInvalidAmount
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || (hasDot && (frac == "" || len(frac) > 2)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	f, err := strconv.ParseUint(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if w > uint64(MaxCents/100) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}

	c := Cents(w*100 + f)
	if neg {
		c = -c
	}
	return c, nil
}

func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (c *Cents) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		return nil
	}
	v, err := ParseCents(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Scan reads DECIMAL values, which the MySQL driver returns as []byte.
func (c *Cents) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = 0
		return nil
	case []byte:
		return c.scanString(string(v))
	case string:
		return c.scanString(v)
	case int64:
		*c = Cents(v * 100)
		return nil
	case float64:
		return c.scanString(strconv.FormatFloat(v, 'f', 2, 64))
	default:
		return fmt.Errorf("cannot scan %T into Cents", src)
	}
}

func (c *Cents) scanString(s string) error {
	v, err := ParseCents(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Value writes the amount as a decimal string so MySQL never sees a float.
func (c Cents) Value() (driver.Value, error) {
	return c.String(), nil
}
