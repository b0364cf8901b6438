package quicerr

import "fmt"

// stringify renders an arbitrary value for inclusion in an Error message,
// mirroring the teacher's common/serial.ToString helper.
func stringify(v interface{}) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}
