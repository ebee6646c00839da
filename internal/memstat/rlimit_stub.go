//go:build !unix

package memstat

func addressSpaceLimit() (soft, hard uint64) {
	return 0, 0
}
