package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"elephantlog/pkg/build"
)

// Options is the result of command-line parsing: which mode to run in and
// the flag overrides to apply on top of the configuration file.
type Options struct {
	ConfigPath string
	DeviceID   int // -2 means "not set on the command line"
	Verbose    bool

	// Command selects a one-off mode; empty means live monitoring.
	Command string
	WavPath string
	Label   string
	Live    bool
}

// DeviceUnset marks a device flag the user did not touch, so the config
// file's choice survives.
const DeviceUnset = -2

// ParseArgs builds the cobra command tree, runs it against os.Args and
// returns the selected options. A nil Options with nil error means cobra
// already handled the invocation (help, version).
func ParseArgs() (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{DeviceID: DeviceUnset}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Live = true
			return nil
		},
	}

	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = "devices"
		},
	}
	rootCmd.AddCommand(devicesCmd)

	labelsCmd := &cobra.Command{
		Use:   "labels",
		Short: "Show exemplar counts per label in the store",
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = "labels"
		},
	}
	rootCmd.AddCommand(labelsCmd)

	classifyCmd := &cobra.Command{
		Use:   "classify <file.wav>",
		Short: "Classify every frame of a WAV file and print a summary",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = "classify"
			options.WavPath = args[0]
		},
	}
	rootCmd.AddCommand(classifyCmd)

	trainCmd := &cobra.Command{
		Use:   "train <file.wav>",
		Short: "Train the classifier on every frame of a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if options.Label == "" {
				return fmt.Errorf("train requires --label")
			}
			options.Command = "train"
			options.WavPath = args[0]
			return nil
		},
	}
	trainCmd.Flags().StringVarP(&options.Label, "label", "t", "",
		"Label to attach to every trained frame")
	rootCmd.AddCommand(trainCmd)

	rootCmd.PersistentFlags().StringVarP(&options.ConfigPath, "config", "f", "",
		"Path to configuration file. Default searches ./config.yaml")
	rootCmd.PersistentFlags().IntVarP(&options.DeviceID, "device", "d", DeviceUnset,
		"Input device ID. Use 'devices' command to see available devices.")
	rootCmd.PersistentFlags().BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	if options.Command == "" && !options.Live {
		// Cobra handled a help or version invocation.
		return nil, nil
	}
	return options, nil
}
