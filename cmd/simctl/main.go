// Command simctl drives the DICOM side of the simulator from the shell:
// connectivity checks, study queries, uploads and retrieves against the
// configured PACS, without going through the web UI.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"radiology-simulator/internal/gateway"
	"radiology-simulator/internal/models"
	"radiology-simulator/internal/registry"
)

var (
	pacsAddr  string
	pacsAE    string
	callingAE string
	inboundAE string
	verbose   bool
)

func newGateway() *gateway.Gateway {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return gateway.New(gateway.Config{
		PACSAddress:    pacsAddr,
		PACSAETitle:    pacsAE,
		CallingAETitle: callingAE,
		InboundAETitle: inboundAE,
		Logger:         logger,
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	root := &cobra.Command{
		Use:           "simctl",
		Short:         "Drive the radiology simulator's PACS operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&pacsAddr, "pacs", envOr("PACS_ADDR", "127.0.0.1:4242"), "PACS host:port")
	root.PersistentFlags().StringVar(&pacsAE, "pacs-ae", envOr("PACS_AE_TITLE", "ORTHANC"), "PACS AE title")
	root.PersistentFlags().StringVar(&callingAE, "calling-ae", envOr("CALLING_AE_TITLE", "SIMULATOR"), "our AE title")
	root.PersistentFlags().StringVar(&inboundAE, "inbound-ae", envOr("INBOUND_AE_TITLE", "RECEIVER"), "move destination AE title")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(echoCmd(), studiesCmd(), worklistCmd(), storeCmd(), moveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "simctl:", err)
		if gateway.Retryable(err) {
			fmt.Fprintln(os.Stderr, "simctl: connectivity failure, retrying the same command may succeed")
		}
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func echoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "echo",
		Short: "Verify the PACS answers C-ECHO",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newGateway().Echo(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func studiesCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "studies",
		Short: "Query the PACS at study level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			studies, err := newGateway().FindStudies(cmd.Context(), scope)
			if err != nil {
				return err
			}
			return printJSON(studies)
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "session code to narrow patient IDs")
	return cmd
}

func worklistCmd() *cobra.Command {
	var station, date string
	cmd := &cobra.Command{
		Use:   "worklist",
		Short: "Query the PACS modality worklist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := newGateway().FindWorklistPACS(cmd.Context(), station, date)
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	cmd.Flags().StringVar(&station, "station", "", "scheduled station AE title")
	cmd.Flags().StringVar(&date, "date", "", "scheduled date (YYYYMMDD)")
	return cmd
}

func storeCmd() *cobra.Command {
	var patientID, patientName, accession string
	cmd := &cobra.Command{
		Use:   "store [files...]",
		Short: "Retag DICOM files for a case and C-STORE them to the PACS",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if patientID == "" || accession == "" {
				return fmt.Errorf("--patient-id and --accession are required")
			}

			var files []models.UploadFile
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				files = append(files, models.UploadFile{Name: path, Data: data})
			}

			snap := models.Case{
				PatientID:        patientID,
				PatientName:      patientName,
				AccessionNumber:  accession,
				StudyInstanceUID: registry.DeriveStudyUID(accession),
			}
			rec, err := newGateway().StoreInstances(cmd.Context(), snap, files)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
	cmd.Flags().StringVar(&patientID, "patient-id", "", "patient ID to stamp into the files")
	cmd.Flags().StringVar(&patientName, "patient-name", "", "patient name (LAST^FIRST)")
	cmd.Flags().StringVar(&accession, "accession", "", "accession number")
	return cmd
}

func moveCmd() *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "move <study-uid>",
		Short: "Ask the PACS to push a study to the receiving station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ack, err := newGateway().MoveStudy(cmd.Context(), args[0], dest)
			if err != nil {
				return err
			}
			return printJSON(ack)
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination AE title (defaults to the inbound AE)")
	return cmd
}
