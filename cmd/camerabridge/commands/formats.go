package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/CameraBridge/internal/imaging"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "Show the pixel format conversion table",
	Long: `List every supported preview format with the conversion routine used to
turn it into RGBA. Entries marked with * deviate from the routine the format
name alone would suggest.`,
	RunE: runFormats,
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func runFormats(cmd *cobra.Command, args []string) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FORMAT\tBITS/PX\tCONVERSION\tNATURAL\tNOTE")
	for _, route := range imaging.Routes() {
		mark := ""
		if route.Deviates() {
			mark = " *"
		}
		fmt.Fprintf(tw, "%s%s\t%d\t%s\t%s\t%s\n",
			route.Format, mark,
			route.Format.BitsPerPixel(),
			imaging.CodeName(route.Code),
			imaging.CodeName(route.Natural),
			route.Note,
		)
	}
	return tw.Flush()
}
