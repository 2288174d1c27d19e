package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"loyaltypay/crypto"
	"loyaltypay/rpc"
)

const (
	defaultRPC     = "http://127.0.0.1:8080"
	rpcEnv         = "LOYALTYPAY_RPC"
	rpcTokenEnv    = "LOYALTYPAY_RPC_TOKEN"
	defaultPassEnv = "LOYALTYPAY_KEY_PASS"
)

type cliOptions struct {
	rpcURL   string
	rpcToken string
	keystore string
	passEnv  string

	// stdin is only consulted for interactive passphrase prompts.
	stdin *os.File
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{stdin: os.Stdin}
	root := &cobra.Command{
		Use:          "loyaltyctl",
		Short:        "Operate loyalty cards and payments on a loyaltypay node",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.rpcURL, "rpc", envOr(rpcEnv, defaultRPC), "node JSON-RPC endpoint")
	root.PersistentFlags().StringVar(&opts.rpcToken, "rpc-token", os.Getenv(rpcTokenEnv), "bearer token for transaction submission")
	root.PersistentFlags().StringVar(&opts.keystore, "keystore", "", "path to the signing keystore")
	root.PersistentFlags().StringVar(&opts.passEnv, "pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")

	root.AddCommand(
		newKeygenCommand(opts),
		newAddressCommand(opts),
		newPayCommand(opts),
		newTransferCommand(opts),
		newCloseCommand(opts),
		newRecordCommand(opts),
		newURICommand(),
	)
	return root
}

func (o *cliOptions) client() rpc.LedgerAPI {
	var clientOpts []rpc.ClientOption
	if token := strings.TrimSpace(o.rpcToken); token != "" {
		clientOpts = append(clientOpts, rpc.WithAuthToken(token))
	}
	return rpc.NewClient(o.rpcURL, clientOpts...)
}

// passphrase reads the keystore passphrase from the configured environment
// variable, prompting on a terminal when it is unset.
func (o *cliOptions) passphrase(prompt string, w io.Writer) (string, error) {
	if value, ok := os.LookupEnv(o.passEnv); ok {
		return value, nil
	}
	if o.stdin == nil || !term.IsTerminal(int(o.stdin.Fd())) {
		return "", fmt.Errorf("passphrase env %s not set", o.passEnv)
	}
	fmt.Fprint(w, prompt)
	raw, err := term.ReadPassword(int(o.stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}

func (o *cliOptions) loadKey(w io.Writer) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(o.keystore) == "" {
		return nil, fmt.Errorf("--keystore is required")
	}
	pass, err := o.passphrase("Keystore passphrase: ", w)
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(o.keystore, pass)
}

func (o *cliOptions) signer(w io.Writer) (*rpc.Signer, error) {
	key, err := o.loadKey(w)
	if err != nil {
		return nil, err
	}
	return rpc.NewSigner(o.client(), key), nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
