package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xpadev-net/clipwatch/internal/clip"
)

type groupOptions struct {
	file      string
	windowSec int
	minimum   string
	mode      string
	vod       bool
	jsonOut   bool
}

func newGroupCommand() *cobra.Command {
	var opts groupOptions

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Group a JSON array of clips offline and print the viral groups",
		Long: "Reads clips as a JSON array (the same shape the webhook payload carries) and runs " +
			"the burst detector over them. --mode selects a tenant preset; otherwise --window and --min apply.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if opts.file != "" && opts.file != "-" {
				f, err := os.Open(opts.file)
				if err != nil {
					return fmt.Errorf("open clips: %w", err)
				}
				defer f.Close()
				in = f
			}
			return runGroup(in, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "-", "Clips JSON file, - for stdin")
	cmd.Flags().IntVar(&opts.windowSec, "window", 30, "Grouping window in seconds")
	cmd.Flags().StringVar(&opts.minimum, "min", "auto", "Minimum clips per group: a number or auto")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Tenant mode preset (auto, low, medium, high)")
	cmd.Flags().BoolVar(&opts.vod, "vod", false, "Apply the recording policy")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print groups as JSON")

	return cmd
}

type groupOutput struct {
	Start   time.Time   `json:"start"`
	End     time.Time   `json:"end"`
	Minimum int         `json:"minimum"`
	Clips   []clip.Clip `json:"clips"`
}

func resolvePolicy(opts groupOptions) (clip.Policy, error) {
	if opts.mode != "" {
		mode := clip.Mode(opts.mode)
		if !mode.Valid() || mode == clip.ModeManual {
			return clip.Policy{}, fmt.Errorf("unknown mode %q", opts.mode)
		}
		return clip.PolicyFor(mode, 0, 0, opts.vod), nil
	}
	if opts.windowSec <= 0 {
		return clip.Policy{}, fmt.Errorf("window must be positive, got %d", opts.windowSec)
	}
	minimum, err := clip.ParseMinimum(opts.minimum)
	if err != nil {
		return clip.Policy{}, err
	}
	return clip.Policy{WindowSec: opts.windowSec, Minimum: minimum}, nil
}

func runGroup(in io.Reader, out io.Writer, opts groupOptions) error {
	policy, err := resolvePolicy(opts)
	if err != nil {
		return err
	}

	var clips []clip.Clip
	if err := json.NewDecoder(in).Decode(&clips); err != nil {
		return fmt.Errorf("decode clips: %w", err)
	}

	groups := clip.GroupClips(clips, policy.WindowSec, policy.Minimum)

	if opts.jsonOut {
		results := make([]groupOutput, 0, len(groups))
		for _, g := range groups {
			results = append(results, groupOutput{
				Start:   g.Start,
				End:     g.End,
				Minimum: policy.Minimum.Evaluate(g.Anchor().ViewerCount),
				Clips:   g.Members,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	fmt.Fprintf(out, "%d clips, %s, %d groups\n", len(clips), policy, len(groups))
	for i, g := range groups {
		fmt.Fprintf(out, "#%d %s - %s (%d clips)\n", i+1,
			g.Start.UTC().Format(time.RFC3339), g.End.UTC().Format(time.RFC3339), g.Size())
		for _, c := range g.Members {
			fmt.Fprintf(out, "  %s %s\n", c.ID, c.URL)
		}
	}
	return nil
}
