package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/sifen-client/internal/cdc"
	"github.com/rezonia/sifen-client/internal/server"
)

var cdcCmd = &cobra.Command{
	Use:   "cdc",
	Short: "Work with control codes (CDC)",
	Long: `Compute, validate, and repair 44-digit control codes.

Examples:
  sifen-client cdc compute invoice.json
  sifen-client cdc validate 01800123454001001000003320260314112345678906
  sifen-client cdc repair 01800123454001001000003320260314112345678900`,
}

var cdcComputeCmd = &cobra.Command{
	Use:   "compute <document.json>",
	Short: "Compute the control code of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runCDCCompute,
}

var cdcValidateCmd = &cobra.Command{
	Use:   "validate <code>",
	Short: "Check the check digit of a control code",
	Args:  cobra.ExactArgs(1),
	RunE:  runCDCValidate,
}

var cdcRepairCmd = &cobra.Command{
	Use:   "repair <code>",
	Short: "Recompute the check digit of a control code",
	Args:  cobra.ExactArgs(1),
	RunE:  runCDCRepair,
}

func init() {
	rootCmd.AddCommand(cdcCmd)
	cdcCmd.AddCommand(cdcComputeCmd)
	cdcCmd.AddCommand(cdcValidateCmd)
	cdcCmd.AddCommand(cdcRepairCmd)
}

func runCDCCompute(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var req server.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	doc, err := req.Document()
	if err != nil {
		return err
	}

	code, err := cdc.Compute(cdc.FieldsFromDocument(doc))
	if err != nil {
		return err
	}
	fmt.Println(code)
	return nil
}

func runCDCValidate(cmd *cobra.Command, args []string) error {
	ok, expected, err := cdc.Validate(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("invalid check digit, expected %d", expected)
	}
	fmt.Println("valid")
	return nil
}

func runCDCRepair(cmd *cobra.Command, args []string) error {
	repaired, err := cdc.Repair(args[0])
	if err != nil {
		return err
	}
	fmt.Println(repaired)
	return nil
}
