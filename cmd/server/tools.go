package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/shaowenchen/mcp-tool-forge/pkg/dispatch"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and run generated capabilities",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the capabilities the server would serve",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		rt := newRuntime(loadConfig())
		rt.dispatcher.Refresh(cmd.Context(), true)

		entries, _ := rt.registry.Load()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tPARAMETERS\tDESCRIPTION")
		for _, desc := range rt.dispatcher.List() {
			ver := "-"
			if entry, ok := entries[desc.Name]; ok && entry.Metadata.Version != "" {
				ver = entry.Metadata.Version
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", desc.Name, ver, strings.Join(desc.InputSchema.Required, ","), desc.Description)
		}
		return w.Flush()
	},
}

var toolsRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a capability once with JSON arguments",
	Args:  cobra.ExactArgs(1),
	RunE:  runTool,
}

func init() {
	toolsRunCmd.Flags().String("args", "{}", "JSON object of arguments")
	toolsRunCmd.Flags().Bool("accessor", false, "Run through the generated wrapper accessor instead of the dispatcher")
	toolsCmd.AddCommand(toolsListCmd, toolsRunCmd)
}

func runTool(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	name := args[0]
	rawArgs, _ := cmd.Flags().GetString("args")
	useAccessor, _ := cmd.Flags().GetBool("accessor")

	var params map[string]any
	dec := json.NewDecoder(strings.NewReader(rawArgs))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt := newRuntime(loadConfig())

	if useAccessor {
		entry, ok, err := rt.registry.Get(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("capability %q is not registered", name)
		}
		out, err := rt.loader.Invoke(ctx, entry.Directory, name, params)
		if err != nil {
			return err
		}
		text, err := dispatch.RenderResult(out)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	}

	rt.dispatcher.Refresh(ctx, true)
	result, err := rt.dispatcher.Call(ctx, name, params)
	if err != nil {
		return err
	}
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			fmt.Fprintln(cmd.OutOrStdout(), text.Text)
		}
	}
	return nil
}
