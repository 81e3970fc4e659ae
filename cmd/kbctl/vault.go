package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"kbflow/internal/app"
	"kbflow/internal/model"
)

var indexProfile string

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Create vaults, upload documents and run indexing",
}

var vaultCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create an empty vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vault, err := orch.CreateVault(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), vault)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created vault %s (%s)\n", vault.Name, vault.ID)
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vaults with their indexing status",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaults, err := orch.ListVaults(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), vaults)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tDOCS\tLAST INDEXED")
		for _, v := range vaults {
			last := "-"
			if v.LastIndexed != nil {
				last = units.HumanDuration(time.Since(*v.LastIndexed)) + " ago"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", v.ID, v.Name, v.Status, v.DocumentCount, last)
		}
		return tw.Flush()
	},
}

var vaultUploadCmd = &cobra.Command{
	Use:   "upload [vault-id] [file...]",
	Short: "Upload files one by one; failures do not stop the batch",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := make([]app.UploadFile, 0, len(args)-1)
		for _, path := range args[1:] {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			files = append(files, app.UploadFile{Name: filepath.Base(path), Size: info.Size(), Content: f})
		}

		result, err := orch.UploadDocuments(cmd.Context(), args[0], files)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		out := cmd.OutOrStdout()
		for i, o := range result.Outcomes {
			if o.OK() {
				fmt.Fprintf(out, "  ok    %s (%s)\n", o.FileName, units.HumanSize(float64(files[i].Size)))
			} else {
				fmt.Fprintf(out, "  fail  %s: %v\n", o.FileName, o.Err)
			}
		}
		fmt.Fprintf(out, "%d uploaded, %d failed\n", result.SuccessCount, result.FailedCount)
		if result.NeedsIndexing {
			fmt.Fprintf(out, "%s Run: kbctl vault index %s\n", result.Reminder, result.VaultID)
		}
		return nil
	},
}

var vaultDocsCmd = &cobra.Command{
	Use:   "docs [vault-id]",
	Short: "List the documents of a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		listing, err := orch.ListDocuments(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), listing)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tSIZE\tSTATUS")
		for _, d := range listing.Documents {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Title, units.HumanSize(float64(d.SizeBytes)), d.Status)
		}
		fmt.Fprintf(tw, "\t%d documents\t%s\t\n", len(listing.Documents), listing.TotalSize)
		return tw.Flush()
	},
}

var vaultIndexCmd = &cobra.Command{
	Use:   "index [vault-id]",
	Short: "Start indexing a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := orch.StartIndexing(cmd.Context(), args[0], model.IndexProfile(indexProfile))
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), job)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexing %s: job %s %s. Check progress with: kbctl vault status %s\n",
			args[0], job.JobID, job.Status, args[0])
		return nil
	},
}

var vaultStatusCmd = &cobra.Command{
	Use:   "status [vault-id]",
	Short: "Poll the indexing status of a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vault, err := orch.RefreshVault(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), vault)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d documents)\n", vault.Name, vault.Status, vault.DocumentCount)
		if vault.ErrorReason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "reason: %s\n", vault.ErrorReason)
		}
		return nil
	},
}

var vaultReindexCmd = &cobra.Command{
	Use:   "reindex-all",
	Short: "Trigger a service-wide reindex (needs ADMIN_TOKEN)",
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := orch.AdminReindex(cmd.Context(), model.IndexProfile(indexProfile))
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), job)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reindex job %s %s\n", job.JobID, job.Status)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{vaultIndexCmd, vaultReindexCmd} {
		c.Flags().StringVar(&indexProfile, "profile", string(model.DefaultIndexProfile), "Indexing profile: fast or standard")
	}
	vaultCmd.AddCommand(vaultCreateCmd, vaultListCmd, vaultUploadCmd, vaultDocsCmd, vaultIndexCmd, vaultStatusCmd, vaultReindexCmd)
}
