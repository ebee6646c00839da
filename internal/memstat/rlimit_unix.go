//go:build unix

package memstat

import "golang.org/x/sys/unix"

// addressSpaceLimit reads the soft and hard RLIMIT_AS ceilings. Zero means
// unlimited or unreadable.
func addressSpaceLimit() (soft, hard uint64) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &lim); err != nil {
		return 0, 0
	}
	if lim.Cur != unix.RLIM_INFINITY {
		soft = uint64(lim.Cur)
	}
	if lim.Max != unix.RLIM_INFINITY {
		hard = uint64(lim.Max)
	}
	return soft, hard
}
