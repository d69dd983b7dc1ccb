package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/IntegrityLedger/internal/signing"
)

var signingCmd = &cobra.Command{
	Use:   "signing",
	Short: "Manage the ledger signing key",
}

var pubKeyOut string

func init() {
	signingCmd.AddCommand(signingPublicKeyCmd)

	signingPublicKeyCmd.Flags().StringVar(&pubKeyOut, "out", "", "write the PEM to this file instead of stdout")
}

var signingPublicKeyCmd = &cobra.Command{
	Use:   "public-key",
	Short: "Export the verification key peers use to check entry signatures",
	Long: `Prints the PKIX PEM public key for signing.key_path. Peers set
signing.public_key_path to this file to verify signatures without the
private key. The key is never generated here.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keyPEM, err := os.ReadFile(cfg.Signing.KeyPath)
		if err != nil {
			return fmt.Errorf("read signing key: %w", err)
		}
		key, err := signing.ParsePrivateKey(keyPEM)
		if err != nil {
			return err
		}
		pubPEM, err := signing.NewJWTSigner(key, cfg.Signing.Issuer).PublicKeyPEM()
		if err != nil {
			return err
		}

		if pubKeyOut == "" {
			fmt.Fprint(cmd.OutOrStdout(), pubPEM)
			return nil
		}
		if err := os.WriteFile(pubKeyOut, []byte(pubPEM), 0o644); err != nil {
			return fmt.Errorf("write public key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Public key written to %s\n", pubKeyOut)
		return nil
	},
}
