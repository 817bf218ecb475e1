package timeutil

import (
	"strconv"
	"time"
)

// Millis is a timestamp in milliseconds since the epoch. It decodes from a
// JSON number or an RFC 3339 string and always encodes as a number.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		return nil
	}
	if s[0] == '"' {
		t, err := time.Parse(`"`+time.RFC3339Nano+`"`, s)
		if err != nil {
			return err
		}
		*m = Millis(t.UnixMilli())
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*m = Millis(f)
	return nil
}

func (m Millis) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, int64(m), 10), nil
}

// Time returns the timestamp in UTC.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}
