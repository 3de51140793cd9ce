package entities

import (
	"database/sql/driver"
	"fmt"
	"math/big"
)

// Uint256 is an exact non-negative 256-bit integer, stored and transported as
// decimal text so it survives JSON and SQL varchar columns without floating
// point loss. Chain amounts (wei, smallest token units) are always Uint256,
// never float64.
type Uint256 struct {
	v big.Int
}

func NewUint256(v *big.Int) Uint256 {
	var u Uint256
	if v != nil {
		u.v.Set(v)
	}
	return u
}

func Uint256FromUint64(v uint64) Uint256 {
	var u Uint256
	u.v.SetUint64(v)
	return u
}

func ParseUint256(s string) (Uint256, error) {
	var u Uint256
	if s == "" {
		return u, nil
	}
	if _, ok := u.v.SetString(s, 10); !ok {
		return Uint256{}, fmt.Errorf("invalid uint256 literal %q", s)
	}
	if u.v.Sign() < 0 {
		return Uint256{}, fmt.Errorf("uint256 literal %q is negative", s)
	}
	return u, nil
}

func (u Uint256) Big() *big.Int {
	return new(big.Int).Set(&u.v)
}

func (u Uint256) String() string {
	return u.v.String()
}

func (u Uint256) IsZero() bool {
	return u.v.Sign() == 0
}

func (u Uint256) Cmp(o Uint256) int {
	return u.v.Cmp(&o.v)
}

func (u Uint256) Add(o Uint256) Uint256 {
	var out Uint256
	out.v.Add(&u.v, &o.v)
	return out
}

func (u Uint256) Sub(o Uint256) Uint256 {
	var out Uint256
	out.v.Sub(&u.v, &o.v)
	return out
}

// Decimal renders the integer as a human decimal string with the given number
// of fractional digits, e.g. raw=1500000 decimals=6 -> "1.5".
func (u Uint256) Decimal(decimals uint8) string {
	if decimals == 0 {
		return u.v.String()
	}
	s := u.v.String()
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for len(s) <= int(decimals) {
		s = "0" + s
	}
	intPart := s[:len(s)-int(decimals)]
	fracPart := s[len(s)-int(decimals):]
	for len(fracPart) > 1 && fracPart[len(fracPart)-1] == '0' {
		fracPart = fracPart[:len(fracPart)-1]
	}
	if fracPart == "0" {
		if neg {
			return "-" + intPart
		}
		return intPart
	}
	if neg {
		return "-" + intPart + "." + fracPart
	}
	return intPart + "." + fracPart
}

// MarshalJSON/UnmarshalJSON render Uint256 as a JSON string, matching the
// wire contract's "decimal strings everywhere, never numeric" rule.
func (u Uint256) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.v.String() + `"`), nil
}

func (u *Uint256) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseUint256(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Value/Scan implement database/sql's driver.Valuer/Scanner so Uint256 can be
// stored directly in a varchar/text column through GORM. int64/float64 are
// also accepted on Scan since sqlite's NUMERIC type affinity can hand back
// either for a value that looks like a plain integer.
func (u Uint256) Value() (driver.Value, error) {
	return u.v.String(), nil
}

func (u *Uint256) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*u = Uint256{}
		return nil
	case string:
		parsed, err := ParseUint256(v)
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case []byte:
		parsed, err := ParseUint256(string(v))
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case int64:
		u.v.SetInt64(v)
		return nil
	case float64:
		u.v.SetInt64(int64(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Uint256", src)
	}
}
