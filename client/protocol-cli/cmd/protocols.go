package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload a protocol PDF and print its summary",
	Long: `Uploads a protocol document. The call returns once the service has extracted,
summarized and indexed it, which can take several minutes for long guidelines.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded protocols",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var getCmd = &cobra.Command{
	Use:   "get [protocol-id]",
	Short: "Show a protocol with its summary and citations",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var fileCmd = &cobra.Command{
	Use:   "file [protocol-id]",
	Short: "Print a signed download link for the original file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFile,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [protocol-id]",
	Short: "Delete a protocol and everything derived from it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var activateCmd = &cobra.Command{
	Use:   "activate [protocol-id]",
	Short: "Make a protocol the default scope for recommendations",
	Args:  cobra.ExactArgs(1),
	RunE:  runActivate,
}

var (
	uploadName    string
	uploadVersion string
)

func init() {
	uploadCmd.Flags().StringVarP(&uploadName, "name", "n", "", "display name (defaults to the file name)")
	uploadCmd.Flags().StringVarP(&uploadVersion, "version", "v", "", "protocol version label")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(activateCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	c := newAPIClient(serverURL, timeout)
	cmd.Println(mutedStyle.Render("Uploading " + args[0] + " ..."))

	res, err := c.Upload(cmd.Context(), args[0], uploadName, uploadVersion)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	cmd.Println(successStyle.Render("Protocol stored: " + res.DocumentID))
	cmd.Printf("  %s %d  %s %d", labelStyle.Render("Pages:"), res.PageCount, labelStyle.Render("Chunks:"), res.ChunkCount)
	if res.OCRUsed {
		cmd.Print("  " + warningStyle.Render("(OCR)"))
	}
	if res.Cached {
		cmd.Print("  " + mutedStyle.Render("(summary from cache)"))
	}
	cmd.Println()
	printSummary(cmd, res.Summary, res.Citations)
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	docs, err := newAPIClient(serverURL, timeout).List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list protocols: %w", err)
	}
	if len(docs) == 0 {
		cmd.Println("No protocols uploaded yet.")
		return nil
	}

	cmd.Println(titleStyle.Render("Protocols"))
	cmd.Println()
	for _, d := range docs {
		marker := "  "
		if d.Active {
			marker = successStyle.Render("* ")
		}
		cmd.Printf("%s%s\n", marker, d.ID)
		cmd.Printf("    %s %s\n", labelStyle.Render("Name:"), d.Name)
		if d.Version != "" {
			cmd.Printf("    %s %s\n", labelStyle.Render("Version:"), d.Version)
		}
		cmd.Printf("    %s %d\n", labelStyle.Render("Pages:"), d.PageCount)
		cmd.Printf("    %s %s\n", labelStyle.Render("Uploaded:"), d.CreatedAt.Local().Format("2006-01-02 15:04"))
		cmd.Println()
	}
	cmd.Printf("Total: %d protocols\n", len(docs))
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	d, err := newAPIClient(serverURL, timeout).Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get protocol: %w", err)
	}
	cmd.Println(titleStyle.Render(d.Name))
	cmd.Printf("  %s %s\n", labelStyle.Render("ID:"), d.ID)
	cmd.Printf("  %s %s\n", labelStyle.Render("File:"), d.Filename)
	if d.Version != "" {
		cmd.Printf("  %s %s\n", labelStyle.Render("Version:"), d.Version)
	}
	cmd.Printf("  %s %d\n", labelStyle.Render("Pages:"), d.PageCount)
	cmd.Printf("  %s %t\n", labelStyle.Render("Active:"), d.Active)
	printSummary(cmd, d.Summary, d.Citations)
	return nil
}

func runFile(cmd *cobra.Command, args []string) error {
	url, err := newAPIClient(serverURL, timeout).FileURL(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get file link: %w", err)
	}
	cmd.Println(url)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := newAPIClient(serverURL, timeout).Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete protocol: %w", err)
	}
	cmd.Println(successStyle.Render("Deleted " + args[0]))
	return nil
}

func runActivate(cmd *cobra.Command, args []string) error {
	if err := newAPIClient(serverURL, timeout).Activate(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to activate protocol: %w", err)
	}
	cmd.Println(successStyle.Render("Active protocol: " + args[0]))
	return nil
}

func printSummary(cmd *cobra.Command, summary string, cites []citation) {
	if strings.TrimSpace(summary) == "" {
		cmd.Println(mutedStyle.Render("No summary available."))
		return
	}
	cmd.Println()
	cmd.Println(titleStyle.Render("Summary"))
	cmd.Println(summary)
	if len(cites) == 0 {
		return
	}
	cmd.Println()
	cmd.Println(titleStyle.Render("Citations"))
	for _, c := range cites {
		cmd.Printf("  p.%d  %s\n", c.Page, c.Snippet)
		if c.URL != "" {
			cmd.Println("        " + mutedStyle.Render(c.URL))
		}
	}
}
