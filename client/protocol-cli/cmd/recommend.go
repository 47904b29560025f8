package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Ask for a CKD recommendation for a patient",
	Long: `Sends patient features to the service and prints the recommendation together
with the protocol pages that support it. At least one of --egfr, --acr or --notes is required.`,
	Args: cobra.NoArgs,
	RunE: runRecommend,
}

var (
	recFeatures   patientFeatures
	recEGFR       float64
	recACR        float64
	recCreatinine float64
)

func init() {
	f := recommendCmd.Flags()
	f.IntVar(&recFeatures.Age, "age", 0, "age in years")
	f.StringVar(&recFeatures.Sex, "sex", "", "sex (male or female)")
	f.Float64Var(&recEGFR, "egfr", 0, "eGFR in mL/min/1.73m²")
	f.Float64Var(&recACR, "acr", 0, "urine albumin-to-creatinine ratio in mg/mmol")
	f.Float64Var(&recCreatinine, "creatinine", 0, "serum creatinine in µmol/L")
	f.BoolVar(&recFeatures.Diabetes, "diabetes", false, "patient has diabetes")
	f.BoolVar(&recFeatures.Hypertension, "hypertension", false, "patient has hypertension")
	f.StringSliceVar(&recFeatures.Medications, "medication", nil, "current medication (repeatable)")
	f.StringVar(&recFeatures.Notes, "notes", "", "free-text clinical notes")
	f.StringVar(&recFeatures.DocumentID, "document", "", "protocol ID to search (defaults to the active protocol)")

	rootCmd.AddCommand(recommendCmd)
}

func runRecommend(cmd *cobra.Command, _ []string) error {
	features := recFeatures
	// Lab values are only sent when given, so an unset flag is not read as 0.
	if cmd.Flags().Changed("egfr") {
		features.EGFR = &recEGFR
	}
	if cmd.Flags().Changed("acr") {
		features.ACR = &recACR
	}
	if cmd.Flags().Changed("creatinine") {
		features.Creatinine = &recCreatinine
	}

	rec, err := newAPIClient(serverURL, timeout).Recommend(cmd.Context(), features)
	if err != nil {
		return fmt.Errorf("recommendation failed: %w", err)
	}
	printRecommendation(cmd, rec)
	return nil
}

func printRecommendation(cmd *cobra.Command, rec *recommendation) {
	if rec.Degraded {
		cmd.Println(warningStyle.Render("The model answer could not be used; showing the retrieved evidence only."))
	}
	cmd.Println(titleStyle.Render("Recommendation"))
	if rec.Recommendation != "" {
		cmd.Println(rec.Recommendation)
	}
	printList(cmd, "Investigations", rec.Investigations)
	printList(cmd, "Treatment", rec.Treatment)
	if rec.Rationale != "" {
		cmd.Println()
		cmd.Println(titleStyle.Render("Rationale"))
		cmd.Println(rec.Rationale)
	}
	if len(rec.Evidence) > 0 {
		cmd.Println()
		cmd.Println(titleStyle.Render("Evidence"))
		for _, e := range rec.Evidence {
			cmd.Printf("  p.%d  %s\n", e.Page, labelStyle.Render(e.Section))
			if e.Quote != "" {
				cmd.Printf("        %q\n", e.Quote)
			}
			if e.Link != "" {
				cmd.Println("        " + mutedStyle.Render(e.Link))
			}
		}
	}
	if rec.Dropped > 0 {
		cmd.Println(mutedStyle.Render(fmt.Sprintf("%d cited item(s) did not match the retrieved pages and were left out.", rec.Dropped)))
	}
}

func printList(cmd *cobra.Command, title string, items []string) {
	if len(items) == 0 {
		return
	}
	cmd.Println()
	cmd.Println(titleStyle.Render(title))
	for _, it := range items {
		cmd.Println("  - " + it)
	}
}
