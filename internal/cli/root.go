// Package cli wires the daemon together behind a cobra command tree.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "santad",
		Short:         "santad: kernel-event authorization agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("santad {{.Version}}\n")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCheckConfigCmd())

	return cmd
}

// ExitError carries an exit code and optional message out of a command.
type ExitError struct {
	code    int
	message string
}

func (e *ExitError) Error() string { return e.message }

// Code returns the process exit code.
func (e *ExitError) Code() int { return e.code }

// Message returns the user-facing message, possibly empty.
func (e *ExitError) Message() string { return e.message }
