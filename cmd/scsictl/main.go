// Command scsictl is the control-channel client for scsid: one kong
// subcommand per spec.md §6 verb, plus dump/stats for diagnostics.
package main

import (
	"github.com/alecthomas/kong"

	"github.com/scsiemu/scsiemu/pkg/cmdutil"
)

const (
	programName = "scsictl"
	programDesc = "Control client for the scsid SCSI/SASI target daemon"
)

func main() {
	ctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.Resolvers(cmdutil.ResolvePassword(false)),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	err := ctx.Run(&context{})
	ctx.FatalIfErrorf(err)
}
