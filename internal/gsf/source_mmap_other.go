//go:build !unix

package gsf

import "os"

func newMmapSource(f *os.File, size int64) (dataSource, error) {
	return nil, errMmapUnsupported
}
