package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/solatis/rulefilter/internal/core/auth"
	"github.com/solatis/rulefilter/internal/core/config"
)

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Issue an API key; the key is printed once and never stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closer, err := authenticatorFromFlags(cmd)
		if err != nil {
			return err
		}
		defer closer()

		secretID, _ := cmd.Flags().GetString("secret-id")
		if secretID == "" {
			if secretID, err = defaultSecretID(); err != nil {
				return err
			}
		}
		key, err := a.IssueKey(cmd.Context(), args[0], secretID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <api-key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closer, err := authenticatorFromFlags(cmd)
		if err != nil {
			return err
		}
		defer closer()
		return a.RevokeKey(cmd.Context(), args[0])
	},
}

func init() {
	apiKeyCreateCmd.Flags().String("secret-id", "", "secret ID to bind the key to (default: the only configured secret)")
	apiKeyCmd.AddCommand(apiKeyCreateCmd, apiKeyRevokeCmd)
	rootCmd.AddCommand(apiKeyCmd)
}

func authenticatorFromFlags(cmd *cobra.Command) (*auth.Authenticator, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	secrets, err := config.HMACSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	database, queries, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewAuthenticator(secrets, queries), func() { database.Close() }, nil
}

func defaultSecretID() (string, error) {
	secrets, err := config.HMACSecrets()
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(secrets))
	for id := range secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("no HMAC secrets configured (set RF_HMAC_SECRET)")
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("%d secrets configured, choose one with --secret-id: %v", len(ids), ids)
}
