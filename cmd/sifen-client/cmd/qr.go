package cmd

import (
	"fmt"
	"os"

	"github.com/beevik/etree"
	"github.com/spf13/cobra"

	"github.com/rezonia/sifen-client/internal/xmlutil"
)

var qrCmd = &cobra.Command{
	Use:   "qr <signed.xml>",
	Short: "Print the QR link of a signed document",
	Long: `Print the consultation QR link embedded in a signed rDE.

The link is generated at signing time and carried in the gCamFuFD
extension block; this command only extracts it.

Examples:
  sifen-client qr signed-invoice.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runQR,
}

func init() {
	rootCmd.AddCommand(qrCmd)
}

func runQR(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("%s: empty document", args[0])
	}

	link := xmlutil.TextByLocalName(root, "dCarQR")
	if link == "" {
		return fmt.Errorf("%s: no QR link found, is the document signed?", args[0])
	}
	fmt.Println(link)
	return nil
}
