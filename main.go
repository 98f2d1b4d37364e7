package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/anonymous-tct-authors/tct-models/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
