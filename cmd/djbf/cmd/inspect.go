package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/djbf-gateway/internal/api"
	"github.com/kenneth/djbf-gateway/internal/djbf"
)

func newInspectCommand(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Print the normalized DJBF header of each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := root.load(cmd.ErrOrStderr(), &logrus.TextFormatter{})
			if err != nil {
				return err
			}
			codec := djbf.New(nil, djbf.WithLogger(logger))

			type row struct {
				File string `json:"file"`
				api.HeaderInfo
			}
			var rows []row
			failed := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err == nil {
					var h *djbf.Header
					if h, err = codec.Inspect(data); err == nil {
						rows = append(rows, row{File: path, HeaderInfo: api.NewHeaderInfo(h, len(data))})
						continue
					}
				}
				failed++
				logger.WithError(err).WithField("file", path).Error("Failed to inspect file")
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rows); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FILE\tVERSION\tFLAGS\tSIZE\tBODY\tSUFFIX\tCHECKSUM")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
						r.File, r.Version, r.Flags, r.DataSize, r.BodySize, r.SuffixSize, r.Checksum)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be inspected", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print headers as JSON")
	return cmd
}
