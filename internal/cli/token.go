package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vesperbase/vesper/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Chat-scoped token utilities",
	Long: `Mint and verify the chat-scoped tokens the permission broker
requires from agent-side callers.`,
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate <chat-id>",
	Short: "Mint a token for a chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenGenerate,
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <token> <chat-id>",
	Short: "Check a token against a chat",
	Args:  cobra.ExactArgs(2),
	RunE:  runTokenVerify,
}

func init() {
	tokenCmd.AddCommand(tokenGenerateCmd)
	tokenCmd.AddCommand(tokenVerifyCmd)

	rootCmd.AddCommand(tokenCmd)
}

func runTokenGenerate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(&cfg.Logging)

	tokens := auth.NewTokenService(cfg.Auth.Token)
	token, expiresAt, err := tokens.Generate(args[0])
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	fmt.Printf("Expires: %s\n", expiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func runTokenVerify(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(&cfg.Logging)

	tokens := auth.NewTokenService(cfg.Auth.Token)
	if err := tokens.Verify(args[0], args[1]); err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}

	fmt.Println("Token valid")
	return nil
}
