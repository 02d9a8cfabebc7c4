package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/metatron/internal/config"
)

func init() {
	configListCmd.Flags().Bool("reveal", false, "print secrets unmasked")
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and change settings in the config file",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), cfgPath)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every setting as key = value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reveal, _ := cmd.Flags().GetBool("reveal")
		flat, err := config.ListValues(loadConfig(), !reveal)
		if err != nil {
			return err
		}
		for _, key := range config.Keys(flat) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, flat[key])
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		v, err := config.GetValue(cfgPath, key)
		if err != nil {
			return err
		}
		v = config.MaskSecrets(map[string]any{key: v})[key]
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting; the server picks it up on restart",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		loadConfig() // creates the file with defaults on first use
		if err := config.SetValue(cfgPath, key, value); err != nil {
			return err
		}
		shown := config.MaskSecrets(map[string]any{key: value})[key]
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, shown)
		return nil
	},
}
