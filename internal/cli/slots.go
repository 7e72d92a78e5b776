package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/soda-auto/soda-sim-sub008/internal/manager"
	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

// SlotView is the output shape of one slot.
type SlotView struct {
	ID           slot.ID                    `json:"id"`
	Type         slot.Type                  `json:"type"`
	Label        string                     `json:"label"`
	Description  string                     `json:"description,omitempty"`
	ClassName    string                     `json:"class_name,omitempty"`
	Metadata     string                     `json:"metadata,omitempty"`
	LastModified time.Time                  `json:"last_modified"`
	Hash         string                     `json:"hash"`
	Status       *slot.SyncStatus           `json:"status,omitempty"`
	Sources      map[string]slot.SyncStatus `json:"sources,omitempty"`
	Store        string                     `json:"store,omitempty"`
}

func newSlotView(info slot.Info, storePath string) SlotView {
	return SlotView{
		ID:           info.ID,
		Type:         info.Type,
		Label:        info.Label,
		Description:  info.Description,
		ClassName:    info.ClassName,
		Metadata:     info.Metadata,
		LastModified: info.LastModified.UTC(),
		Hash:         info.Hash.String(),
		Store:        storePath,
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Types    []string
	Sources  []string
	NoRescan bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List slots with their sync status",
		Long: `List local and remote slots and classify each one against every
registered source.

A source that cannot be reached reports not_checked for its slots; the
listing itself still succeeds.

Example:
  slotdb list
  slotdb list --type vehicle --source mongo
  slotdb list --no-rescan --format json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Types, "type", "t", nil, "slot types to list (default: all)")
	cmd.Flags().StringSliceVarP(&opts.Sources, "source", "s", nil, "sources to consult (default: all)")
	cmd.Flags().BoolVar(&opts.NoRescan, "no-rescan", false, "do not rescan the roots for new store files")

	return cmd
}

func runList(cmd *cobra.Command, opts *ListOptions) (err error) {
	types, err := parseTypes(opts.Types)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.finish(&err)

	var getOpts []manager.GetOption
	if len(opts.Sources) > 0 {
		getOpts = append(getOpts, manager.WithSource(opts.Sources...))
	}

	ctx := cmd.Context()
	var views []SlotView
	for i, typ := range types {
		o := getOpts
		if opts.NoRescan || i > 0 {
			o = append(o[:len(o):len(o)], manager.WithoutRescan())
		}
		slots, err := a.manager.GetSlots(ctx, typ, o...)
		if err != nil {
			return err
		}
		for _, s := range slots {
			v := newSlotView(s.Info, s.Store)
			status := s.Status
			v.Status = &status
			v.Sources = s.Sources
			views = append(views, v)
		}
	}
	a.formatter.VerboseLog("found %d slot(s)", len(views))

	sortViews(views)
	if a.formatter.JSON() {
		return a.formatter.Success(views)
	}
	if len(views) == 0 {
		return a.formatter.Success("(no slots)")
	}

	t := &table{header: []string{"ID", "TYPE", "LABEL", "STATUS", "SOURCES", "STORE"}}
	for _, v := range views {
		t.add(v.ID.String(), v.Type.String(), v.Label, v.Status.String(), formatSources(v.Sources), storeName(v.Store))
	}
	return a.formatter.Success(t)
}

// sortViews orders by type, then collated label, then ID.
func sortViews(views []SlotView) {
	coll := labelCollator()
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if c := coll.CompareString(a.Label, b.Label); c != 0 {
			return c < 0
		}
		return a.ID.String() < b.ID.String()
	})
}

func formatSources(sources map[string]slot.SyncStatus) string {
	if len(sources) == 0 {
		return "-"
	}
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + sources[name].String()
	}
	return strings.Join(parts, ",")
}

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Output string
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a local slot",
		Long: `Show the metadata of a local slot and optionally write its payload
to a file ("-" for stdout).

Example:
  slotdb get 0190a8b2-5c1e-7d2a-9f00-3b4c5d6e7f80
  slotdb get 0190a8b2-5c1e-7d2a-9f00-3b4c5d6e7f80 -o car.bin`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the payload to this file")

	return cmd
}

func runGet(cmd *cobra.Command, opts *GetOptions, rawID string) (err error) {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.finish(&err)

	ctx := cmd.Context()
	info, err := a.manager.GetSlot(ctx, id)
	if err != nil {
		return err
	}
	path, err := a.manager.SlotStore(ctx, id)
	if err != nil {
		return err
	}

	if opts.Output != "" {
		data, err := a.manager.GetSlotData(ctx, id)
		if err != nil {
			return err
		}
		if opts.Output == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
			return WrapExitError(ExitFailure, "failed to write payload", err)
		}
		a.formatter.VerboseLog("wrote %d byte(s) to %s", len(data), opts.Output)
	}

	view := newSlotView(info, path)
	if a.formatter.JSON() {
		return a.formatter.Success(view)
	}
	return a.formatter.Success(describe(view))
}

// describe renders a slot as aligned key/value lines.
func describe(v SlotView) string {
	var b strings.Builder
	line := func(k, val string) {
		if val != "" {
			fmt.Fprintf(&b, "%-13s %s\n", k+":", val)
		}
	}
	line("ID", v.ID.String())
	line("Type", v.Type.String())
	line("Label", v.Label)
	line("Description", v.Description)
	line("Class", v.ClassName)
	line("Metadata", v.Metadata)
	line("Modified", v.LastModified.Format(time.RFC3339))
	line("Hash", v.Hash)
	line("Store", v.Store)
	return strings.TrimSuffix(b.String(), "\n")
}

// SlotFlags are the editable fields shared by add and update.
type SlotFlags struct {
	Type        string
	Label       string
	Description string
	ClassName   string
	Metadata    string
	DataFile    string
}

func (f *SlotFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Label, "label", "l", "", "display label")
	cmd.Flags().StringVar(&f.Description, "description", "", "free-form description")
	cmd.Flags().StringVar(&f.ClassName, "class", "", "class path used to instantiate the slot")
	cmd.Flags().StringVar(&f.Metadata, "metadata", "", "opaque metadata string")
	cmd.Flags().StringVarP(&f.DataFile, "data-file", "d", "", `payload file ("-" for stdin)`)
}

// apply copies every flag the user set onto info.
func (f *SlotFlags) apply(cmd *cobra.Command, info *slot.Info) {
	changed := cmd.Flags().Changed
	if changed("label") {
		info.Label = normalizeLabel(f.Label)
	}
	if changed("description") {
		info.Description = f.Description
	}
	if changed("class") {
		info.ClassName = f.ClassName
	}
	if changed("metadata") {
		info.Metadata = f.Metadata
	}
}

func (f *SlotFlags) readData(cmd *cobra.Command) ([]byte, error) {
	if f.DataFile == "" {
		return nil, nil
	}
	var (
		data []byte
		err  error
	)
	if f.DataFile == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(f.DataFile)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read payload", err)
	}
	return data, nil
}

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	SlotFlags
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a slot to the default store",
		Long: `Create a new slot in the default store and print its ID.

Example:
  slotdb add --type vehicle --label "TestCar" --data-file car.bin`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "slot type (vehicle|vehicle_component|level|actor)")
	opts.register(cmd)
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("label")

	return cmd
}

func runAdd(cmd *cobra.Command, opts *AddOptions) (err error) {
	typ, err := slot.ParseType(opts.Type)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --type", err)
	}
	data, err := opts.readData(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.finish(&err)

	info := slot.Info{Type: typ}
	opts.apply(cmd, &info)

	ctx := cmd.Context()
	id, err := a.manager.AddSlot(ctx, info, data)
	if err != nil {
		return err
	}
	return a.printSlot(ctx, id)
}

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	SlotFlags
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a slot's metadata or payload",
		Long: `Update fields of an existing slot in the store that owns it. Only the
flags given are changed.

Example:
  slotdb update 0190a8b2-5c1e-7d2a-9f00-3b4c5d6e7f80 --label "TestCar v2"
  slotdb update 0190a8b2-5c1e-7d2a-9f00-3b4c5d6e7f80 --data-file car.bin`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, opts, args[0])
		},
	}

	opts.register(cmd)

	return cmd
}

func runUpdate(cmd *cobra.Command, opts *UpdateOptions, rawID string) (err error) {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	data, err := opts.readData(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.finish(&err)

	ctx := cmd.Context()
	info, err := a.manager.GetSlot(ctx, id)
	if err != nil {
		return err
	}

	before := info
	opts.apply(cmd, &info)
	if info != before {
		if _, err := a.manager.AddOrUpdateSlotInfo(ctx, info); err != nil {
			return err
		}
	}
	if opts.DataFile != "" {
		if err := a.manager.UpdateSlotData(ctx, id, data); err != nil {
			return err
		}
	}
	return a.printSlot(ctx, id)
}

func (a *app) printSlot(ctx context.Context, id slot.ID) error {
	info, err := a.manager.GetSlot(ctx, id)
	if err != nil {
		return err
	}
	path, err := a.manager.SlotStore(ctx, id)
	if err != nil {
		return err
	}
	view := newSlotView(info, path)
	if a.formatter.JSON() {
		return a.formatter.Success(view)
	}
	return a.formatter.Success(describe(view))
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a slot from every local store",
		Long: `Delete a slot from every local store holding it. Remote copies are
not touched; use remote-delete for those. Deleting an unknown ID succeeds.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, rootOpts, args[0])
		},
	}
}

func runDelete(cmd *cobra.Command, opts *RootOptions, rawID string) (err error) {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.finish(&err)

	deleted, err := a.manager.DeleteSlot(cmd.Context(), id)
	if err != nil {
		return err
	}

	if a.formatter.JSON() {
		return a.formatter.Success(map[string]any{"id": id, "deleted": deleted})
	}
	if !deleted {
		return a.formatter.Success(fmt.Sprintf("Slot %s not found locally; nothing deleted", id))
	}
	return a.formatter.Success(fmt.Sprintf("Deleted slot %s", id))
}

func parseID(s string) (slot.ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return slot.ID{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid slot id %q", s), err)
	}
	return id, nil
}

func parseTypes(names []string) ([]slot.Type, error) {
	if len(names) == 0 {
		return slot.AllTypes, nil
	}
	types := make([]slot.Type, 0, len(names))
	for _, n := range names {
		typ, err := slot.ParseType(n)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --type", err)
		}
		types = append(types, typ)
	}
	return types, nil
}

// exactArgs is cobra.ExactArgs reporting a command error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return WrapExitError(ExitCommandError, "invalid arguments", err)
		}
		return nil
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}
	return nil
}
