package main

import (
	"flag"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "clothing-server",
		Short:         "clothing image classification service",
		Long:          "HTTP service that classifies clothing images by URL with a pre-trained ONNX model",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)

	root.AddCommand(NewCmdServe())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	})
	return root
}
