//go:build linux

package idle

import (
	"time"

	"golang.org/x/sys/unix"
)

func accessTime(path string) (time.Time, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return time.Time{}, false
	}

	sec, nsec := st.Atim.Unix()

	return time.Unix(sec, nsec), true
}
