package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/siteproof/siteproof/internal/config"
)

// --- site ---

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage onboarded sites",
}

var siteAddCmd = &cobra.Command{
	Use:   "add <root-domain>",
	Short: "Onboard a site for analysis",
	Long: `Onboard a site for analysis.

Examples:
  siteproof site add acme.example
  siteproof site add shop.example --max-pages 100 --model ecommerce`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxPages, _ := cmd.Flags().GetInt("max-pages")
		maxDepth, _ := cmd.Flags().GetInt("max-depth")
		model, _ := cmd.Flags().GetString("model")
		fold, _ := cmd.Flags().GetBool("fold-hosts")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"root_domain":        args[0],
			"fold_host_variants": fold,
		}
		if maxPages > 0 {
			req["max_pages"] = maxPages
		}
		if maxDepth > 0 {
			req["max_depth"] = maxDepth
		}
		if model != "" {
			req["business_model"] = model
		}

		resp, err := client.post(cmd.Context(), "/sites", req)
		if err != nil {
			return err
		}

		var site struct {
			ID         string `json:"id"`
			RootDomain string `json:"root_domain"`
		}
		if err := decodeJSON(resp, &site); err != nil {
			return err
		}

		printSuccess("Onboarded %s (site %s)", site.RootDomain, site.ID)
		return nil
	},
}

var siteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List onboarded sites",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sites")
		if err != nil {
			return err
		}

		var sites []struct {
			ID            string `json:"id"`
			RootDomain    string `json:"root_domain"`
			MaxPages      int    `json:"max_pages"`
			BusinessModel string `json:"business_model"`
			CreatedAt     string `json:"created_at"`
		}
		if err := decodeJSON(resp, &sites); err != nil {
			return err
		}

		if len(sites) == 0 {
			fmt.Println("No sites onboarded yet.")
			return nil
		}

		for _, s := range sites {
			model := s.BusinessModel
			if model == "" {
				model = "-"
			}
			fmt.Printf("%s  %-30s  %-10s  %s\n",
				colorize(colorCyan, s.ID[:8]),
				s.RootDomain,
				model,
				s.CreatedAt,
			)
		}
		return nil
	},
}

var siteShowCmd = &cobra.Command{
	Use:   "show <site-id>",
	Short: "Show a site as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sites/"+args[0])
		if err != nil {
			return err
		}

		var site any
		if err := decodeJSON(resp, &site); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(site)
	},
}

var siteSetCmd = &cobra.Command{
	Use:   "set <site-id>",
	Short: "Update crawl bounds or business model for a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if cmd.Flags().Changed("max-pages") {
			v, _ := cmd.Flags().GetInt("max-pages")
			body["max_pages"] = v
		}
		if cmd.Flags().Changed("max-depth") {
			v, _ := cmd.Flags().GetInt("max-depth")
			body["max_depth"] = v
		}
		if cmd.Flags().Changed("model") {
			v, _ := cmd.Flags().GetString("model")
			body["business_model"] = v
		}
		if len(body) == 0 {
			return fmt.Errorf("nothing to update: pass --max-pages, --max-depth or --model")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/sites/"+args[0], body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Site %s updated", args[0])
		return nil
	},
}

var siteRemoveCmd = &cobra.Command{
	Use:   "remove <site-id>",
	Short: "Delete a site and all its runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes the site and every stored run. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/sites/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Site %s deleted", args[0])
		return nil
	},
}

func init() {
	siteAddCmd.Flags().Int("max-pages", 0, "crawl page cap (default 50)")
	siteAddCmd.Flags().Int("max-depth", 0, "crawl depth cap (default 3)")
	siteAddCmd.Flags().String("model", "", "business model override: saas, ecommerce or services")
	siteAddCmd.Flags().Bool("fold-hosts", false, "treat www and apex hosts as the same site")

	siteSetCmd.Flags().Int("max-pages", 0, "crawl page cap")
	siteSetCmd.Flags().Int("max-depth", 0, "crawl depth cap")
	siteSetCmd.Flags().String("model", "", "business model override")

	siteRemoveCmd.Flags().Bool("confirm", false, "confirm deletion")

	siteCmd.AddCommand(siteAddCmd)
	siteCmd.AddCommand(siteListCmd)
	siteCmd.AddCommand(siteShowCmd)
	siteCmd.AddCommand(siteSetCmd)
	siteCmd.AddCommand(siteRemoveCmd)
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <site-id>",
	Short: "Crawl, index, question and score a site",
	Long: `Run the full analysis pipeline for an onboarded site and print the
run summary. The run is synchronous and can take a few minutes for
larger sites.

Examples:
  siteproof analyze 3f2a9c1e
  siteproof analyze 3f2a9c1e --question "Do you offer an on-premise plan?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		custom, _ := cmd.Flags().GetStringArray("question")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Analyzing site %s...", args[0])

		var body any
		if len(custom) > 0 {
			body = map[string]any{"custom_questions": custom}
		}
		resp, err := client.post(cmd.Context(), "/sites/"+args[0]+"/runs", body)
		if err != nil {
			return err
		}

		var summary struct {
			RunID         string             `json:"run_id"`
			RenderMode    string             `json:"render_mode"`
			PagesCrawled  int                `json:"pages_crawled"`
			PagesIndexed  int                `json:"pages_indexed"`
			ChunksIndexed int                `json:"chunks_indexed"`
			Questions     int                `json:"questions"`
			Overalls      map[string]float64 `json:"overalls"`
			Limitations   []string           `json:"limitations"`
		}
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		printSuccess("Run %s completed", summary.RunID)
		printStatus("Render mode", "%s", summary.RenderMode)
		printStatus("Pages", "%d crawled, %d indexed (%d chunks)",
			summary.PagesCrawled, summary.PagesIndexed, summary.ChunksIndexed)
		printStatus("Questions", "%d", summary.Questions)
		printOveralls(summary.Overalls)
		for _, lim := range summary.Limitations {
			printWarning("limitation: %s", lim)
		}
		return nil
	},
}

func printOveralls(overalls map[string]float64) {
	bands := make([]string, 0, len(overalls))
	for band := range overalls {
		bands = append(bands, band)
	}
	sort.Strings(bands)
	for _, band := range bands {
		printStatus("Score ("+band+")", "%.1f", overalls[band])
	}
}

func init() {
	analyzeCmd.Flags().StringArray("question", nil, "custom question to include (repeatable)")
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs <site-id>",
	Short: "List analysis runs for a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sites/"+args[0]+"/runs")
		if err != nil {
			return err
		}

		var runs []struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			RenderMode string `json:"render_mode"`
			CreatedAt  string `json:"created_at"`
		}
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}

		for _, r := range runs {
			mode := r.RenderMode
			if mode == "" {
				mode = "-"
			}
			fmt.Printf("%s  %-10s  %-9s  %s\n",
				colorize(colorCyan, r.ID[:8]),
				r.Status,
				mode,
				r.CreatedAt,
			)
		}
		return nil
	},
}

// --- questions ---

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Inspect or extend a run's question set",
}

var questionsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the latest question set for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/runs/"+args[0]+"/questions")
		if err != nil {
			return err
		}

		var out struct {
			Set struct {
				Version int `json:"version"`
			} `json:"set"`
			Questions []struct {
				Category string `json:"category"`
				Rule     string `json:"rule"`
				Text     string `json:"text"`
			} `json:"questions"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		fmt.Printf("Question set v%d (%d questions)\n", out.Set.Version, len(out.Questions))
		for _, q := range out.Questions {
			label := q.Category
			if q.Rule != "" && q.Rule != q.Category {
				label += "/" + q.Rule
			}
			fmt.Printf("  %s %s\n", colorize(colorBold, "["+label+"]"), q.Text)
		}
		return nil
	},
}

var questionsAddCmd = &cobra.Command{
	Use:   "add <run-id> <question>...",
	Short: "Add custom questions as a new question-set version",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"custom_questions": args[1:]}
		resp, err := client.post(cmd.Context(), "/runs/"+args[0]+"/questions", body)
		if err != nil {
			return err
		}

		var out struct {
			Set struct {
				Version int `json:"version"`
			} `json:"set"`
			Questions []any `json:"questions"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		printSuccess("Question set v%d created (%d questions)", out.Set.Version, len(out.Questions))
		return nil
	},
}

func init() {
	questionsCmd.AddCommand(questionsShowCmd)
	questionsCmd.AddCommand(questionsAddCmd)
}

// --- score ---

var scoreCmd = &cobra.Command{
	Use:   "score <run-id>",
	Short: "Re-score a run's latest question set without re-crawling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/runs/"+args[0]+"/score", nil)
		if err != nil {
			return err
		}

		var out struct {
			Overalls map[string]float64 `json:"overalls"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		printSuccess("Run %s re-scored", args[0])
		printOveralls(out.Overalls)
		return nil
	},
}

// --- report ---

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Show the sourceability report for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/runs/"+args[0]+"/report")
		if err != nil {
			return err
		}

		if asJSON {
			var report any
			if err := decodeJSON(resp, &report); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		var report struct {
			Bands []struct {
				Band        string  `json:"band"`
				TokenBudget int     `json:"token_budget"`
				Overall     float64 `json:"overall"`
				Categories  []struct {
					Category string  `json:"category"`
					Score    float64 `json:"score"`
				} `json:"categories"`
			} `json:"bands"`
			TopBlockers []struct {
				ReasonCode string   `json:"reason_code"`
				Count      int      `json:"count"`
				Questions  []string `json:"questions"`
			} `json:"top_blockers"`
			Limitations []string `json:"limitations"`
			Divergence  *struct {
				SimulatedPassRate float64 `json:"simulated_pass_rate"`
				ObservedPassRate  float64 `json:"observed_pass_rate"`
				Gap               float64 `json:"gap"`
				Bucket            string  `json:"bucket"`
			} `json:"divergence"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		for _, band := range report.Bands {
			fmt.Printf("\n%s (budget %d tokens): %s\n",
				colorize(colorBold, band.Band),
				band.TokenBudget,
				colorize(colorBold, fmt.Sprintf("%.1f", band.Overall)),
			)
			for _, cat := range band.Categories {
				fmt.Printf("  %-15s %.1f\n", cat.Category, cat.Score)
			}
		}

		if len(report.TopBlockers) > 0 {
			fmt.Printf("\n%s\n", colorize(colorBold, "Top blockers"))
			for _, b := range report.TopBlockers {
				fmt.Printf("  %s (%d)\n", b.ReasonCode, b.Count)
				for _, q := range b.Questions {
					fmt.Printf("    - %s\n", q)
				}
			}
		}

		for _, lim := range report.Limitations {
			printWarning("limitation: %s", lim)
		}
		if report.Divergence != nil {
			printStatus("Divergence", "%s (simulated %.2f vs observed %.2f, gap %.2f)",
				report.Divergence.Bucket,
				report.Divergence.SimulatedPassRate,
				report.Divergence.ObservedPassRate,
				report.Divergence.Gap,
			)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("json", false, "print the full report as JSON")
}

// --- observed ---

var observedCmd = &cobra.Command{
	Use:   "observed <run-id>",
	Short: "Record observed assistant-answer outcomes for a run",
	Long: `Record observed outcomes from the external observation layer so the
report can compare simulated scores against reality.

The --outcomes file maps question IDs to booleans:
  {"q-1f0c...": true, "q-9ab2...": false}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mentionRate, _ := cmd.Flags().GetFloat64("mention-rate")
		outcomesPath, _ := cmd.Flags().GetString("outcomes")

		perQuestion := map[string]bool{}
		if outcomesPath != "" {
			data, err := os.ReadFile(outcomesPath)
			if err != nil {
				return fmt.Errorf("reading outcomes file: %w", err)
			}
			if err := json.Unmarshal(data, &perQuestion); err != nil {
				return fmt.Errorf("invalid outcomes JSON: %w", err)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"mention_rate": mentionRate,
			"per_question": perQuestion,
		}
		resp, err := client.post(cmd.Context(), "/runs/"+args[0]+"/observed", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Recorded observed outcomes for run %s (%d questions)", args[0], len(perQuestion))
		return nil
	},
}

func init() {
	observedCmd.Flags().Float64("mention-rate", 0, "fraction of observed answers that mention the site")
	observedCmd.Flags().String("outcomes", "", "path to a JSON file of question-id to pass/fail")
}

// --- fix ---

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Propose content fixes and estimate their impact",
}

var fixAddCmd = &cobra.Command{
	Use:   "add <site-id>",
	Short: "Store a proposed content fix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scaffold, _ := cmd.Flags().GetString("scaffold")
		targetURL, _ := cmd.Flags().GetString("url")
		category, _ := cmd.Flags().GetString("category")
		questionsStr, _ := cmd.Flags().GetString("questions")

		if scaffold == "" {
			return fmt.Errorf("--scaffold is required")
		}

		var questionIDs []string
		if questionsStr != "" {
			questionIDs = strings.Split(questionsStr, ",")
			for i := range questionIDs {
				questionIDs[i] = strings.TrimSpace(questionIDs[i])
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"site_id":  args[0],
			"scaffold": scaffold,
		}
		if targetURL != "" {
			req["target_url"] = targetURL
		}
		if category != "" {
			req["category"] = category
		}
		if questionIDs != nil {
			req["question_ids"] = questionIDs
		}

		resp, err := client.post(cmd.Context(), "/fixes", req)
		if err != nil {
			return err
		}

		var f struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &f); err != nil {
			return err
		}

		printSuccess("Stored fix %s", f.ID)
		return nil
	},
}

var fixListCmd = &cobra.Command{
	Use:   "list <site-id>",
	Short: "List stored fixes for a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sites/"+args[0]+"/fixes")
		if err != nil {
			return err
		}

		var fixes []struct {
			ID        string `json:"id"`
			Category  string `json:"category"`
			TargetURL string `json:"target_url"`
			Scaffold  string `json:"scaffold"`
		}
		if err := decodeJSON(resp, &fixes); err != nil {
			return err
		}

		if len(fixes) == 0 {
			fmt.Println("No fixes stored.")
			return nil
		}

		for _, f := range fixes {
			scaffold := f.Scaffold
			if len(scaffold) > 60 {
				scaffold = scaffold[:60] + "..."
			}
			fmt.Printf("%s  %-18s  %s\n", colorize(colorCyan, f.ID[:8]), f.Category, scaffold)
		}
		return nil
	},
}

var fixEstimateCmd = &cobra.Command{
	Use:   "estimate <fix-id>",
	Short: "Estimate the score lift of a stored fix",
	Long: `Estimate the score lift of a stored fix.

Tiers:
  C  instant lookup from the historical lift table (default)
  B  re-score affected questions against a patched transient index
  A  full re-crawl and re-score (slow, highest confidence)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, _ := cmd.Flags().GetString("tier")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/fixes/"+args[0]+"/estimates", map[string]any{"tier": tier})
		if err != nil {
			return err
		}

		var est struct {
			Tier        string  `json:"tier"`
			LiftMin     float64 `json:"lift_min"`
			LiftMax     float64 `json:"lift_max"`
			NewScoreMin float64 `json:"new_score_min"`
			NewScoreMax float64 `json:"new_score_max"`
			AffectedIDs string  `json:"affected_ids"`
		}
		if err := decodeJSON(resp, &est); err != nil {
			return err
		}

		printSuccess("Tier %s estimate", est.Tier)
		printStatus("Expected lift", "+%.1f to +%.1f points", est.LiftMin, est.LiftMax)
		printStatus("Projected score", "%.1f to %.1f", est.NewScoreMin, est.NewScoreMax)

		var affected []string
		if est.AffectedIDs != "" {
			json.Unmarshal([]byte(est.AffectedIDs), &affected)
		}
		if len(affected) > 0 {
			printStatus("Affected", "%d questions", len(affected))
		}
		return nil
	},
}

func init() {
	fixAddCmd.Flags().String("scaffold", "", "proposed content scaffold (required)")
	fixAddCmd.Flags().String("url", "", "page the fix targets")
	fixAddCmd.Flags().String("category", "", "blocker category the fix addresses, e.g. missing_pricing")
	fixAddCmd.Flags().String("questions", "", "comma-separated question IDs the fix targets")

	fixEstimateCmd.Flags().String("tier", "C", "estimation tier: A, B or C")

	fixCmd.AddCommand(fixAddCmd)
	fixCmd.AddCommand(fixListCmd)
	fixCmd.AddCommand(fixEstimateCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		// Never print the bearer token.
		cfg.Server.Token = ""

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
