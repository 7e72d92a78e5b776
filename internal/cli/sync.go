package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

// SyncOptions holds flags shared by push, pull and remote-delete.
type SyncOptions struct {
	*RootOptions
	Source string
}

func newSyncCommand(rootOpts *RootOptions, use, short, long string, run func(*cobra.Command, *SyncOptions, slot.ID) error) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Long:  long,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, opts, id)
		},
	}

	cmd.Flags().StringVarP(&opts.Source, "source", "s", "", "name of the source (required)")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	return newSyncCommand(rootOpts, "push", "Upload a local slot to a source",
		`Upload a local slot to a source, replacing the remote copy.

Example:
  slotdb push 0190a8b2-5c1e-7d2a-9f00-3b4c5d6e7f80 --source mongo`,
		runPush)
}

func runPush(cmd *cobra.Command, opts *SyncOptions, id slot.ID) (err error) {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.finish(&err)

	if err := a.manager.PushSlot(cmd.Context(), id, opts.Source); err != nil {
		return err
	}

	if a.formatter.JSON() {
		return a.formatter.Success(map[string]any{"id": id, "source": opts.Source})
	}
	return a.formatter.Success(fmt.Sprintf("Pushed slot %s to %s", id, opts.Source))
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return newSyncCommand(rootOpts, "pull", "Download a slot from a source",
		`Download a slot from a source into the store that owns it, or into
the default store if no local copy exists. The payload is verified against
the hash the source advertises.

Example:
  slotdb pull 0190a8b2-5c1e-7d2a-9f00-3b4c5d6e7f80 --source mongo`,
		runPull)
}

func runPull(cmd *cobra.Command, opts *SyncOptions, id slot.ID) (err error) {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.finish(&err)

	ctx := cmd.Context()
	info, err := a.manager.PullSlot(ctx, id, opts.Source)
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
	return a.formatter.Success(fmt.Sprintf("Pulled slot %s from %s into %s", id, opts.Source, storeName(path)))
}

// NewRemoteDeleteCommand creates the remote-delete command.
func NewRemoteDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return newSyncCommand(rootOpts, "remote-delete", "Delete a slot from a source",
		`Delete a slot from a source. Local copies are not touched. Deleting a
slot the source does not hold succeeds.`,
		runRemoteDelete)
}

func runRemoteDelete(cmd *cobra.Command, opts *SyncOptions, id slot.ID) (err error) {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.finish(&err)

	if err := a.manager.DeleteRemoteSlot(cmd.Context(), id, opts.Source); err != nil {
		return err
	}

	if a.formatter.JSON() {
		return a.formatter.Success(map[string]any{"id": id, "source": opts.Source, "deleted": true})
	}
	return a.formatter.Success(fmt.Sprintf("Deleted slot %s from %s", id, opts.Source))
}
