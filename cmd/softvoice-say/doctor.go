package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tgeczy/softvoice-wrapper/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local engine and environment checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			probe := entryPointProbe(cfg.Engine.LibraryPath)

			dcfg := doctor.Config{
				LibraryPath:      cfg.Engine.LibraryPath,
				ProbeEntryPoints: probe,
				SkipProbe:        probe == nil,
				OutputPath:       cfg.Say.Output,
			}

			result := doctor.Run(dcfg, os.Stdout)
			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	return cmd
}
