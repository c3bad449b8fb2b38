package image

import (
	"github.com/scsiemu/scsiemu/fileio"
	"github.com/scsiemu/scsiemu/scsi"
)

// bridgeImage is the host-bridge variant: no backing file at all. lun.LUN
// recognizes scsi.MediaBridge and routes GET MESSAGE(10)/SEND MESSAGE(10)
// to the bridge's message channel instead of treating it as block storage.
type bridgeImage struct {
	base
}

func (b *bridgeImage) File() fileio.File { return nil }

func openBridge() Image {
	return &bridgeImage{base: base{
		kind:     scsi.MediaBridge,
		devType:  0x03,
		vendor:   "RASCSI",
		product:  "BRIDGE",
		revision: revisionFromVersion(BuildVersion),
	}}
}
