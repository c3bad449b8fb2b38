package image

import "github.com/scsiemu/scsiemu/fileio"

// fileModeFor picks the open mode for an image path. Write-protection is a
// LUN-level flag set independently (see lun.LUN); the backing file is
// always opened read-write so that toggling write-protect at runtime does
// not require reopening.
func fileModeFor(path string) fileio.Mode {
	return fileio.ReadWrite
}
