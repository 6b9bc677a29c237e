package main

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/remiblancher/cmpctx/internal/audit"
	"github.com/remiblancher/cmpctx/internal/snapshot"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export and inspect context snapshots",
	Long: `Commands for exporting a context to a CBOR snapshot and reading it back.

A snapshot holds the non-secret state of a context: server location,
names, certificates, trust anchors, template and options. Private keys
and the PBM secret are never exported.

With --sign the snapshot is sealed as a COSE_Sign1 message under the
context's own protection key, and verified against its certificate when
read back.`,
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a context snapshot",
	Long: `Apply a context configuration and export its state as a snapshot.

Examples:
  cmpctx snapshot export --config client.yaml --out client.snap
  cmpctx snapshot export --config client.yaml --out client.snap --sign`,
	RunE: runSnapshotExport,
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Verify and display a snapshot",
	Long: `Read a snapshot, restore it into a fresh context and print the result.

A sealed snapshot requires --cert, the certificate of the key that sealed
it.

Examples:
  cmpctx snapshot show client.snap
  cmpctx snapshot show client.snap --cert client.crt`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshotShow,
}

var (
	snapshotConfigPath string
	snapshotOut        string
	snapshotSign       bool
	snapshotCertPath   string
)

func init() {
	snapshotExportCmd.Flags().StringVarP(&snapshotConfigPath, "config", "c", "", "Context configuration file (required)")
	snapshotExportCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "Output snapshot file (required)")
	snapshotExportCmd.Flags().BoolVar(&snapshotSign, "sign", false, "Seal the snapshot with the context's protection key")
	_ = snapshotExportCmd.MarkFlagRequired("config")
	_ = snapshotExportCmd.MarkFlagRequired("out")

	snapshotShowCmd.Flags().StringVar(&snapshotCertPath, "cert", "", "Certificate to verify a sealed snapshot (PEM)")

	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
}

func runSnapshotExport(cmd *cobra.Command, args []string) error {
	ctx, id, release, err := openContext(cmd, snapshotConfigPath)
	if err != nil {
		return fmt.Errorf("context configuration failed: %w", err)
	}
	defer release()

	var cert *x509.Certificate
	signer := ctx.PrivateKey()
	if snapshotSign {
		if signer == nil {
			return fmt.Errorf("--sign requires credentials.key in the configuration")
		}
		if c := ctx.Cert(); c != nil {
			cert = c.Certificate()
		}
	} else {
		signer = nil
	}

	if err := snapshot.Export(ctx, id, snapshotOut, signer, cert); err != nil {
		return fmt.Errorf("failed to export snapshot: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Snapshot of context %s saved to: %s\n", id, snapshotOut)
	if signer != nil {
		alg, err := snapshot.AlgorithmFromKey(signer.Public())
		if err == nil {
			fmt.Fprintf(out, "Sealed with: %s\n", snapshot.AlgorithmName(alg))
		}
	}
	return nil
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	var cert *x509.Certificate
	if snapshotCertPath != "" {
		c, err := x509util.LoadCertificate(snapshotCertPath)
		if err != nil {
			return err
		}
		cert = c
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	sealed := snapshot.IsSealed(data)

	snap, err := snapshot.ReadFile(args[0], cert)
	if err != nil {
		return err
	}

	ctx, err := newCommandContext(cmd, snap.PropertyQuery)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	if err := audit.LogContextCreated(id, snap.PropertyQuery); err != nil {
		_ = ctx.Close()
		return err
	}
	defer func() {
		_ = ctx.Close()
		_ = audit.LogContextClosed(id)
	}()
	if err := snap.Restore(ctx); err != nil {
		ctx.PrintErrors()
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Snapshot:  %s\n", args[0])
	fmt.Fprintf(out, "Version:   %d\n", snap.Version)
	fmt.Fprintf(out, "Created:   %s\n", snap.Time().UTC().Format(time.RFC3339))
	if sealed {
		fmt.Fprintln(out, "Signature: VALID")
	} else {
		fmt.Fprintln(out, "Signature: none")
	}
	printContext(out, ctx)
	return nil
}
