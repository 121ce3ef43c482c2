// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/c3s-magic/magicwps/internal/client"
	"github.com/c3s-magic/magicwps/internal/logging"

	"github.com/spf13/cobra"
)

// exitRequestFailed is the exit code when the service answers with an error.
const exitRequestFailed = 2

func newExecuteCommand(app *App) *cobra.Command {
	var req client.Request
	cmd := &cobra.Command{
		Use:   "execute <process>",
		Short: "Submit an Execute request to a running WPS",
		Long: `Submit an asynchronous Execute request to a running WPS.

Models, experiments and ensembles are paired by position and only sent when
all three are given. Do not use this against a production service; it is
intended for test deployments.`,
		Example: `  magicwps execute perfmetrics --model MPI-ESM-LR --experiment historical --ensemble r1i1p1 --start-year 1990 --end-year 2000`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := app.setup(cmd.Context()); err != nil {
				return err
			}
			req.Process = args[0]
			resp, err := client.New(logging.For("client")).Execute(cmd.Context(), req)
			var statusErr *client.StatusError
			if errors.As(err, &statusErr) {
				return &ExitError{Code: exitRequestFailed, Err: err}
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, SuccessStyle.Render("The request was successfully submitted"))
			fmt.Fprintln(app.stdout, resp.Body)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Host, "wps-service", client.DefaultHost, "hostname of the wps service")
	cmd.Flags().IntVar(&req.Port, "port", client.DefaultPort, "port of the wps service")
	cmd.Flags().StringVar(&req.Scheme, "scheme", client.DefaultScheme, "scheme of the wps service")
	cmd.Flags().StringSliceVar(&req.Models, "model", nil, "models to run the process on")
	cmd.Flags().StringSliceVar(&req.Experiments, "experiment", nil, "experiments to run the process on")
	cmd.Flags().StringSliceVar(&req.Ensembles, "ensemble", nil, "ensembles to run the process on")
	cmd.Flags().IntVar(&req.StartYear, "start-year", 0, "start year")
	cmd.Flags().IntVar(&req.EndYear, "end-year", 0, "end year")
	return cmd
}
