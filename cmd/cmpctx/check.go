package main

import (
	"crypto/x509/pkix"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/remiblancher/cmpctx/internal/audit"
	"github.com/remiblancher/cmpctx/internal/cmp"
	"github.com/remiblancher/cmpctx/internal/config"
	"github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/x509util"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load a context configuration and report its state",
	Long: `Load a context configuration file, apply it to a fresh CMP context and
print the resulting state.

Every configuration problem is reported at once. Files referenced by the
configuration (certificates, keys, CSR) are loaded, and the own chain is
built when trust.build_chain is set.

Examples:
  cmpctx check --config client.yaml
  cmpctx check --config client.yaml --verbosity debug`,
	RunE: runCheck,
}

var checkConfigPath string

func init() {
	checkCmd.Flags().StringVarP(&checkConfigPath, "config", "c", "", "Context configuration file (required)")
	_ = checkCmd.MarkFlagRequired("config")
}

// newCommandContext creates a context that logs through the command's
// logger at the --verbosity level. A verbosity set by a configuration or
// snapshot applied later takes precedence.
func newCommandContext(cmd *cobra.Command, propq string) (*cmp.Context, error) {
	level, err := cmp.ParseSeverity(verbosity)
	if err != nil {
		return nil, fmt.Errorf("invalid --verbosity: %w", err)
	}
	ctx, err := cmp.New(nil, propq)
	if err != nil {
		return nil, err
	}
	if err := ctx.SetLogCallback(cmp.LeveledLogCallback(newLogger(cmd, "cmp"))); err != nil {
		_ = ctx.Close()
		return nil, err
	}
	if err := ctx.SetOption(cmp.OptLogVerbosity, int(level)); err != nil {
		_ = ctx.Close()
		return nil, err
	}
	return ctx, nil
}

// openContext loads the configuration at path into a new context that logs
// through the command's logger. The release function closes it.
func openContext(cmd *cobra.Command, path string) (*cmp.Context, string, func(), error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", nil, err
	}

	ctx, err := newCommandContext(cmd, cfg.PropertyQuery)
	if err != nil {
		return nil, "", nil, err
	}

	id := uuid.NewString()
	if err := audit.LogContextCreated(id, cfg.PropertyQuery); err != nil {
		_ = ctx.Close()
		return nil, "", nil, err
	}
	releaseKey, err := cfg.Apply(ctx, id)
	if err != nil {
		ctx.PrintErrors()
		_ = ctx.Close()
		return nil, "", nil, err
	}
	release := func() {
		_ = ctx.Close()
		releaseKey()
		_ = audit.LogContextClosed(id)
	}
	return ctx, id, release, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, id, release, err := openContext(cmd, checkConfigPath)
	if err != nil {
		return fmt.Errorf("context configuration failed: %w", err)
	}
	defer release()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Context %s\n", id)
	printContext(out, ctx)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration OK")
	return nil
}

func nameOrDash(n *pkix.Name) string {
	if n == nil {
		return "-"
	}
	return n.String()
}

func certOrDash(c *x509util.Cert) string {
	if c == nil {
		return "-"
	}
	return c.String()
}

func printContext(out io.Writer, ctx *cmp.Context) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Server:")
	server := ctx.Server()
	if server == "" {
		server = "-"
	}
	fmt.Fprintf(out, "  Host:      %s:%d\n", server, ctx.ServerPort())
	fmt.Fprintf(out, "  Path:      %s\n", ctx.ServerPath())
	if ctx.Proxy() != "" {
		fmt.Fprintf(out, "  Proxy:     %s (no_proxy: %s)\n", ctx.Proxy(), ctx.NoProxy())
	}
	if pq := ctx.PropertyQuery(); pq != "" {
		fmt.Fprintf(out, "  Properties: %s\n", pq)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Names:")
	fmt.Fprintf(out, "  Recipient:       %s\n", nameOrDash(ctx.Recipient()))
	fmt.Fprintf(out, "  Expected sender: %s\n", nameOrDash(ctx.ExpectedSender()))
	fmt.Fprintf(out, "  Issuer:          %s\n", nameOrDash(ctx.Issuer()))
	fmt.Fprintf(out, "  Subject:         %s\n", nameOrDash(ctx.SubjectName()))

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Credentials:")
	fmt.Fprintf(out, "  Certificate: %s\n", certOrDash(ctx.Cert()))
	if key := ctx.PrivateKey(); key != nil {
		alg, err := crypto.AlgorithmOf(key.Public())
		if err != nil {
			fmt.Fprintln(out, "  Key:         unknown algorithm")
		} else {
			fmt.Fprintf(out, "  Key:         %s\n", alg)
		}
	}
	fmt.Fprintf(out, "  PBM secret:  %t\n", ctx.HasSecretValue())
	for i, c := range ctx.Chain() {
		fmt.Fprintf(out, "  Chain[%d]:    %s\n", i, c.String())
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Trust:")
	anchors := 0
	if store := ctx.Trusted(); store != nil {
		anchors = store.Len()
	}
	fmt.Fprintf(out, "  Anchors:     %d\n", anchors)
	fmt.Fprintf(out, "  Untrusted:   %d\n", len(ctx.Untrusted()))
	fmt.Fprintf(out, "  Server cert: %s\n", certOrDash(ctx.ServerCert()))
	if extra, err := ctx.ExtraCertsOut(); err == nil {
		fmt.Fprintf(out, "  Extra certs: %d\n", len(extra))
		x509util.FreeAll(extra)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Template:")
	for _, gn := range ctx.SubjectAltNames() {
		fmt.Fprintf(out, "  SAN:         %s\n", gn)
	}
	for _, p := range ctx.Policies() {
		fmt.Fprintf(out, "  Policy:      %s\n", p.Policy)
	}
	if ctx.OldCert() != nil {
		fmt.Fprintf(out, "  Old cert:    %s\n", ctx.OldCert())
	}
	if sn := ctx.SerialNumber(); sn != nil {
		fmt.Fprintf(out, "  Serial:      %s\n", sn)
	}
	if ctx.P10CSR() != nil {
		fmt.Fprintln(out, "  CSR:         present")
	}
	if pub := ctx.NewPublicKey(); pub != nil {
		if alg, err := crypto.AlgorithmOf(pub); err == nil {
			fmt.Fprintf(out, "  New key:     %s (private: %t)\n", alg, ctx.NewKeyIsPrivate())
		}
	}

	iterations, saltLen := ctx.PBMParameters()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Algorithms:")
	fmt.Fprintf(out, "  Digest:      %s\n", crypto.DigestName(ctx.Digest()))
	fmt.Fprintf(out, "  PBM:         owf=%s mac=%s iterations=%d salt=%d\n",
		crypto.DigestName(ctx.PBMOWF()), crypto.DigestName(ctx.PBMMAC()), iterations, saltLen)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Options:")
	values := ctx.OptionValues()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-32s %d\n", name, values[name])
	}
}
