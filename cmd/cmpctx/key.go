package main

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/snapshot"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Key management commands",
	Long: `Commands for generating and inspecting the keys a context uses: the
protection key (credentials.key) and the new key of a certificate request
(template.new_key).`,
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a key pair",
	Long: `Generate a new key pair and save the private key as PEM.

Supported algorithms:
  Classical:
    ecdsa-p256   - ECDSA with P-256 curve (default)
    ecdsa-p384   - ECDSA with P-384 curve
    ecdsa-p521   - ECDSA with P-521 curve
    ed25519      - Ed25519 (EdDSA)
    rsa-2048     - RSA 2048-bit
    rsa-3072     - RSA 3072-bit
    rsa-4096     - RSA 4096-bit

  Post-Quantum Signature:
    ml-dsa-44    - ML-DSA-44 (FIPS 204)
    ml-dsa-65    - ML-DSA-65 (FIPS 204)
    ml-dsa-87    - ML-DSA-87 (FIPS 204)

Examples:
  cmpctx key gen --algorithm ecdsa-p384 --out client.key
  cmpctx key gen --algorithm ml-dsa-65 --out new.key --passphrase env:KEY_PASS`,
	RunE: runKeyGen,
}

var keyInfoCmd = &cobra.Command{
	Use:   "info <keyfile>",
	Short: "Display information about a private key",
	Long: `Display information about a private key file.

Shows algorithm, key size, encryption status, and the COSE algorithm used
when the key seals a context snapshot.

Examples:
  cmpctx key info client.key
  cmpctx key info encrypted.key --passphrase secret`,
	Args: cobra.ExactArgs(1),
	RunE: runKeyInfo,
}

var (
	keyGenAlgorithm  string
	keyGenOutput     string
	keyGenPassphrase string

	keyInfoPassphrase string
)

func init() {
	keyCmd.AddCommand(keyGenCmd)
	keyCmd.AddCommand(keyInfoCmd)

	flags := keyGenCmd.Flags()
	flags.StringVarP(&keyGenAlgorithm, "algorithm", "a", "ecdsa-p256", "Key algorithm")
	flags.StringVarP(&keyGenOutput, "out", "o", "", "Output file (required)")
	flags.StringVarP(&keyGenPassphrase, "passphrase", "p", "", "Passphrase for encryption (literal or env:VAR)")
	_ = keyGenCmd.MarkFlagRequired("out")

	keyInfoCmd.Flags().StringVarP(&keyInfoPassphrase, "passphrase", "p", "", "Key passphrase (literal or env:VAR)")
}

func runKeyGen(cmd *cobra.Command, args []string) error {
	alg, err := crypto.ParseAlgorithm(keyGenAlgorithm)
	if err != nil {
		return fmt.Errorf("invalid algorithm: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generating %s key pair...\n", alg.Description())

	keyCfg := crypto.KeyStorageConfig{
		Type:       crypto.KeyProviderTypeSoftware,
		KeyPath:    keyGenOutput,
		Passphrase: keyGenPassphrase,
	}
	if _, err := crypto.NewKeyProvider(keyCfg).Generate(alg, keyCfg); err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}

	fmt.Fprintf(out, "Private key saved to: %s\n", keyGenOutput)
	if keyGenPassphrase == "" {
		fmt.Fprintln(out, "WARNING: Private key is not encrypted.")
	} else {
		fmt.Fprintln(out, "Private key is encrypted with passphrase.")
	}
	return nil
}

func runKeyInfo(cmd *cobra.Command, args []string) error {
	keyFile := args[0]
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("no PEM block found in %s", keyFile)
	}
	encrypted := x509.IsEncryptedPEMBlock(block) //nolint:staticcheck

	if encrypted && keyInfoPassphrase == "" {
		fmt.Fprintf(out, "File:       %s\n", keyFile)
		fmt.Fprintf(out, "Format:     %s (encrypted)\n", block.Type)
		fmt.Fprintln(out, "Encrypted:  Yes")
		fmt.Fprintln(out, "\nNote: Provide --passphrase to see full key details.")
		return nil
	}

	signer, err := crypto.LoadPrivateKey(keyFile, crypto.ResolvePassphrase(keyInfoPassphrase))
	if err != nil {
		return fmt.Errorf("failed to load key: %w", err)
	}

	fmt.Fprintf(out, "File:       %s\n", keyFile)
	fmt.Fprintf(out, "Algorithm:  %s\n", signer.Algorithm().Description())
	fmt.Fprintf(out, "Key Size:   %s\n", keySize(signer))
	fmt.Fprintf(out, "Encrypted:  %v\n", encrypted)
	fmt.Fprintf(out, "Format:     %s\n", block.Type)
	if coseAlg, err := snapshot.AlgorithmFromKey(signer.Public()); err == nil {
		fmt.Fprintf(out, "Snapshot:   %s\n", snapshot.AlgorithmName(coseAlg))
	}
	return nil
}

// keySize returns a human-readable key size string.
func keySize(signer *crypto.SoftwareSigner) string {
	switch k := signer.Public().(type) {
	case *ecdsa.PublicKey:
		return fmt.Sprintf("%d bits", k.Curve.Params().BitSize)
	case ed25519.PublicKey:
		return "256 bits"
	case *rsa.PublicKey:
		return fmt.Sprintf("%d bits", k.N.BitLen())
	}
	switch signer.Algorithm() {
	case crypto.AlgMLDSA44:
		return "NIST Level 2"
	case crypto.AlgMLDSA65:
		return "NIST Level 3"
	case crypto.AlgMLDSA87:
		return "NIST Level 5"
	}
	return "unknown"
}
