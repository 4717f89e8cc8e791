package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/omnifetch/omnifetch"
)

// fetchFlags are the navigation flags shared by the one-shot commands.
type fetchFlags struct {
	wait    string
	timeout time.Duration
}

func (f *fetchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.wait, "wait", "", "navigation completion signal: domcontentloaded, networkidle")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "navigation timeout (default from config)")
}

func (f *fetchFlags) options() omnifetch.FetchOptions {
	return omnifetch.FetchOptions{Wait: f.wait, TimeoutMS: int(f.timeout / time.Millisecond)}
}

func newExtractCmd(flags *rootFlags) *cobra.Command {
	var (
		url       string
		selectors []string
		ff        fetchFlags
	)
	cmd := &cobra.Command{
		Use:     "extract",
		Short:   "Extract fields from a page with CSS selectors",
		Example: `  omnifetch extract --url https://example.com --selector title=h1 --selector lead="p.intro"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseSelectorFlags(selectors)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *omnifetch.App) error {
				resp, err := a.Extract(ctx, omnifetch.ExtractRequest{URL: url, Selectors: sel, FetchOptions: ff.options()})
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page URL")
	cmd.Flags().StringArrayVar(&selectors, "selector", nil, "field=css (repeatable)")
	ff.register(cmd)
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("selector")
	return cmd
}

// newDetectCmd builds "detect" or, with save, "generate".
func newDetectCmd(flags *rootFlags, save bool) *cobra.Command {
	var (
		url    string
		prompt string
		ff     fetchFlags
	)
	use, short := "detect", "Infer CSS selectors for the data described by --prompt"
	if save {
		use, short = "generate", "Infer CSS selectors and save them as a blueprint"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *omnifetch.App) error {
				req := omnifetch.DetectRequest{URL: url, Prompt: prompt, FetchOptions: ff.options()}
				var (
					resp any
					err  error
				)
				if save {
					resp, err = a.Generate(ctx, req)
				} else {
					resp, err = a.Detect(ctx, req)
				}
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page URL")
	cmd.Flags().StringVar(&prompt, "prompt", "", "description of the data to extract")
	ff.register(cmd)
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var ff fetchFlags
	cmd := &cobra.Command{
		Use:   "run <blueprint-id>",
		Short: "Replay a saved blueprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *omnifetch.App) error {
				resp, err := a.Run(ctx, args[0], ff.options())
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
	ff.register(cmd)
	return cmd
}

func newBlueprintsCmd(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "blueprints [id]",
		Short: "List saved blueprints, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *omnifetch.App) error {
				if len(args) == 1 {
					bp, err := a.GetBlueprint(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(omnifetch.BlueprintView{Blueprint: bp, Endpoint: a.ReplayURL(bp.ID)})
				}
				bps, err := a.ListBlueprints(ctx, limit)
				if err != nil {
					return err
				}
				for _, bp := range bps {
					fmt.Printf("%s\t%s\t%s\t%d fields\n",
						bp.ID, bp.CreatedAt.Format(time.RFC3339), bp.SourceURL, len(bp.Selectors))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of blueprints")
	return cmd
}

// parseSelectorFlags turns ["title=h1", "price=span.p"] into a selector map.
// The first '=' separates the field from the selector, so selectors may
// contain attribute matches such as a[href="x"].
func parseSelectorFlags(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		field, sel, ok := strings.Cut(p, "=")
		field, sel = strings.TrimSpace(field), strings.TrimSpace(sel)
		if !ok || field == "" || sel == "" {
			return nil, fmt.Errorf("--selector %q: want field=css", p)
		}
		if _, dup := out[field]; dup {
			return nil, fmt.Errorf("--selector: field %q given twice", field)
		}
		out[field] = sel
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
