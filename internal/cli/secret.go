package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/batchpoll/pkg/model"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage provider credentials",
	}
	cmd.AddCommand(newSecretAddCmd(), newSecretListCmd(), newSecretDeleteCmd())
	return cmd
}

func newSecretAddCmd() *cobra.Command {
	var req model.CreateSecretRequest
	var kind string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a credential",
		Long: "Store a credential. Kind openai needs --api-key (and optionally --organization);\n" +
			"kind keboola needs --token. The value is never shown again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Kind = model.SecretKind(kind)
			var sec model.Secret
			if _, err := client.getInto("POST", "/api/v1/secrets", req, &sec); err != nil {
				return fmt.Errorf("add secret: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret created: %s (%s, %s)\n", sec.ID, sec.Name, sec.Kind)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "Unique secret name")
	f.StringVar(&kind, "kind", "", "Credential kind (openai, keboola)")
	f.StringVar(&req.APIKey, "api-key", "", "OpenAI API key")
	f.StringVar(&req.Organization, "organization", "", "OpenAI organization id")
	f.StringVar(&req.Token, "token", "", "Keboola Storage API token")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("kind")
	return cmd
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials (metadata only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []model.Secret
			if _, err := client.getInto("GET", "/api/v1/secrets", nil, &list); err != nil {
				return fmt.Errorf("list secrets: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No secrets found.")
				return nil
			}
			fmt.Fprintf(out, "%-40s  %-8s  %s\n", "ID", "KIND", "NAME")
			fmt.Fprintf(out, "%-40s  %-8s  %s\n", "--", "----", "----")
			for _, s := range list {
				fmt.Fprintf(out, "%-40s  %-8s  %s\n", s.ID, s.Kind, s.Name)
			}
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <secret_id>",
		Short: "Delete a credential",
		Long: "Delete a credential. A secret used by an active or paused job is refused\n" +
			"unless --force is given; such jobs then fail with \"missing credential\".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/secrets/" + args[0]
			if force {
				path += "?force=true"
			}
			if _, err := client.Delete(path); err != nil {
				return fmt.Errorf("delete secret: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret %s deleted\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete even if jobs still reference it")
	return cmd
}
