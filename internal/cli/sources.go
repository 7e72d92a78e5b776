package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/soda-auto/soda-sim-sub008/internal/source"
)

// SourcesOptions holds flags for the sources command.
type SourcesOptions struct {
	*RootOptions
	Connect bool
}

// SourceView is the output shape of one source.
type SourceView struct {
	Name   string            `json:"name"`
	Kind   string            `json:"kind"`
	Types  []string          `json:"types"`
	Status source.ConnStatus `json:"status"`
	Error  string            `json:"error,omitempty"`
}

// NewSourcesCommand creates the sources command.
func NewSourcesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SourcesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		Long: `List the configured remote sources and the slot types they serve.
With --connect each source is contacted and its connection status shown.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSources(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Connect, "connect", false, "try to connect to every source")

	return cmd
}

func runSources(cmd *cobra.Command, opts *SourcesOptions) (err error) {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.finish(&err)

	kinds := make(map[string]string, len(a.cfg.Sources))
	for _, sc := range a.cfg.Sources {
		kinds[sc.Name] = sc.Kind
	}

	connectErrs := make(map[string]string)
	if opts.Connect {
		for _, info := range a.manager.Sources() {
			if err := a.manager.ConnectSource(cmd.Context(), info.Name); err != nil {
				a.logger.Warn("source unreachable", "source", info.Name, "error", err)
				connectErrs[info.Name] = err.Error()
			}
		}
	}

	var views []SourceView
	for _, info := range a.manager.Sources() {
		types := make([]string, 0, 4)
		for _, t := range info.Types.Types() {
			types = append(types, t.String())
		}
		views = append(views, SourceView{
			Name:   info.Name,
			Kind:   kinds[info.Name],
			Types:  types,
			Status: info.Status,
			Error:  connectErrs[info.Name],
		})
	}

	if a.formatter.JSON() {
		return a.formatter.Success(views)
	}
	if len(views) == 0 {
		return a.formatter.Success("(no sources configured)")
	}

	t := &table{header: []string{"NAME", "KIND", "TYPES", "STATUS"}}
	for _, v := range views {
		t.add(v.Name, v.Kind, strings.Join(v.Types, ","), v.Status.String())
	}
	return a.formatter.Success(t)
}
