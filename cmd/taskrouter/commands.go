package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/router"
	"github.com/zen-systems/taskrouter/pkg/schema"
	"github.com/zen-systems/taskrouter/pkg/server"
	"github.com/zen-systems/taskrouter/pkg/task"
)

func searchCmd() *cobra.Command {
	var system string

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Answer a query with web search and print the cited sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			res, err := a.router.WebSearch(cmd.Context(), router.SearchOptions{System: system, Query: args[0]})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Data.RawText)
			if len(res.Data.Annotations) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for i, ann := range res.Data.Annotations {
					title := ann.Title
					if title == "" {
						title = ann.URL
					}
					fmt.Fprintf(out, "  [%d] %s - %s\n", i+1, title, ann.URL)
				}
			}
			printProvenance(cmd, res.Provider, res.FallbackUsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "system instruction")
	return cmd
}

func generateCmd() *cobra.Command {
	var system string
	var temperature float64
	var maxTokens int

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate free-form text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			opts := router.TextOptions{System: system, Prompt: args[0], MaxTokens: maxTokens}
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = &temperature
			}
			res, err := a.router.GenerateText(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Data)
			printProvenance(cmd, res.Provider, res.FallbackUsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "system instruction")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "completion token limit")
	return cmd
}

func extractCmd() *cobra.Command {
	var system string
	var schemaPath string

	cmd := &cobra.Command{
		Use:   "extract [prompt]",
		Short: "Extract a JSON object, repairing and validating it",
		Long: `Asks the provider for a JSON object. Output that does not parse is sent
back to the same provider once for repair. Use --schema to validate the
result against a JSON Schema file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validator, err := loadSchema(schemaPath)
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			res, err := router.ExtractStructuredJSON(cmd.Context(), a.router, router.ExtractOptions[json.RawMessage]{
				System: system,
				Prompt: args[0],
				Schema: validator,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			if err := printJSON(cmd.OutOrStdout(), res.Data); err != nil {
				return err
			}
			printProvenance(cmd, res.Provider, res.FallbackUsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&system, "system", "Respond with a single JSON object.", "system instruction")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "JSON Schema file the result must satisfy")
	return cmd
}

func visionCmd() *cobra.Command {
	var system string
	var schemaPath string
	var images []string

	cmd := &cobra.Command{
		Use:   "vision [prompt]",
		Short: "Analyse images and return a JSON object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(images) == 0 {
				return fmt.Errorf("at least one --image is required")
			}
			validator, err := loadSchema(schemaPath)
			if err != nil {
				return err
			}
			refs := make([]adapter.Image, 0, len(images))
			for _, img := range images {
				ref, err := imageRef(img)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			res, err := router.AnalyseVisionJSON(cmd.Context(), a.router, router.VisionOptions[json.RawMessage]{
				System: system,
				Prompt: args[0],
				Images: refs,
				Schema: validator,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			if err := printJSON(cmd.OutOrStdout(), res.Data); err != nil {
				return err
			}
			printProvenance(cmd, res.Provider, res.FallbackUsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&system, "system", "Describe the images as a single JSON object.", "system instruction")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "JSON Schema file the result must satisfy")
	cmd.Flags().StringArrayVar(&images, "image", nil, "image URL or local file (repeatable)")
	return cmd
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the provider order for every task type",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			return writeRoutes(cmd.OutOrStdout(), a.router)
		},
	}
}

// writeRoutes prints the resolved order per task type followed by any
// recorded provider failures.
func writeRoutes(out io.Writer, r *router.Router) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "MODE: %s\n\n", r.Mode())
	fmt.Fprintln(w, "TASK TYPE\tTIMEOUT\tORDER\tSKIPPED")

	for _, t := range task.All() {
		d := r.Explain(t)
		order := make([]string, 0, len(d.Order))
		for _, p := range d.Order {
			name := string(p)
			for _, demoted := range d.Demoted {
				if demoted == p {
					name += " (unhealthy)"
				}
			}
			order = append(order, name)
		}
		skipped := make([]string, 0, len(d.Skipped))
		for _, s := range d.Skipped {
			skipped = append(skipped, fmt.Sprintf("%s: %s", s.Provider, s.Reason))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t, r.Timeout(t), formatList(order, "none"), formatList(skipped, "-"))
	}

	if snap := r.Health().Snapshot(); len(snap) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "TASK TYPE\tPROVIDER\tFAILURES\tUNHEALTHY UNTIL")
		for _, st := range snap {
			until := "-"
			if st.UnhealthyUntil != nil {
				until = st.UnhealthyUntil.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", st.Task, st.Provider, st.Failures, until)
		}
	}

	return w.Flush()
}

func modelsCmd() *cobra.Command {
	var validateFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List providers, the model used per capability and key status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			live := cfg.Live()

			if validateFlag {
				errs := live.ValidateModels()
				if len(errs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "All configured models are valid.")
					return nil
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Found %d validation errors:\n", len(errs))
				for _, err := range errs {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", err)
				}
				return fmt.Errorf("validation failed")
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tCAPABILITY\tMODEL\tSTATUS")
			for _, p := range adapter.Providers() {
				status := "no key"
				if live.Configured(p) {
					status = "ready"
				}
				caps := []adapter.Capability{adapter.CapabilityChat, adapter.CapabilitySearch}
				if p == adapter.OpenAI {
					caps = append(caps, adapter.CapabilityVision)
				}
				for _, c := range caps {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p, c, live.Model(p, c), status)
				}
			}
			if names := cfg.Models.ListAliases(); len(names) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintln(w, "ALIAS\tMODEL")
				for _, name := range names {
					fmt.Fprintf(w, "%s\t%s\n", name, cfg.Models.Resolve(name))
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&validateFlag, "validate", false, "check configured models against the provider lists")
	return cmd
}

func diagnosticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Print routing mode and provider availability as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.router.Diagnostics())
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /healthz, /routes and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.New(a.router, a.metrics, a.logger).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func loadSchema(path string) (schema.Validator, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	s, err := schema.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", path, err)
	}
	return s, nil
}

// imageRef passes URLs through and inlines local files as data URLs.
func imageRef(ref string) (adapter.Image, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:") {
		return adapter.Image{URL: ref}, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return adapter.Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return adapter.Image{}, fmt.Errorf("%s is not an image (%s)", ref, mime)
	}
	return adapter.Image{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProvenance(cmd *cobra.Command, p adapter.Provider, fallback bool) {
	note := ""
	if fallback {
		note = " (fallback)"
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "\n[provider: %s%s]\n", p, note)
}

func formatList(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}
