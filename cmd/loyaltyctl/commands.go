package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"loyaltypay/core"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/payments"
)

func newKeygenCommand(opts *cliOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key and write it to --keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.keystore == "" {
				return fmt.Errorf("--keystore is required")
			}
			if _, err := os.Stat(opts.keystore); err == nil && !force {
				return fmt.Errorf("keystore %s already exists (use --force to overwrite)", opts.keystore)
			}
			pass, err := opts.passphrase("New keystore passphrase: ", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(opts.keystore, key, pass); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key.Address().String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	return cmd
}

func newAddressCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of --keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := opts.loadKey(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key.Address().String())
			return nil
		},
	}
}

func newPayCommand(opts *cliOptions) *cobra.Command {
	var merchant, mint string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Settle a payment to a merchant directly from the keystore account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			merchantAddr, err := crypto.DecodeAddress(merchant)
			if err != nil {
				return fmt.Errorf("merchant: %w", err)
			}
			mintAddr, err := crypto.DecodeAddress(mint)
			if err != nil {
				return fmt.Errorf("mint: %w", err)
			}
			signer, err := opts.signer(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			receipt, err := signer.Submit(cmd.Context(), types.TxTypeProcessPayment, &types.ProcessPaymentPayload{
				Customer: signer.Address(),
				Merchant: merchantAddr,
				Mint:     mintAddr,
				Amount:   amount,
			})
			return reportReceipt(cmd, receipt, err)
		},
	}
	cmd.Flags().StringVar(&merchant, "merchant", "", "merchant address")
	cmd.Flags().StringVar(&mint, "mint", "", "payment token mint address")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount in token base units")
	_ = cmd.MarkFlagRequired("merchant")
	_ = cmd.MarkFlagRequired("mint")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newTransferCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <payment-uri>",
		Short: "Pay a payment URI with a reference-tagged transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := payments.ParseURL(args[0])
			if err != nil {
				return err
			}
			signer, err := opts.signer(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			receipt, err := signer.Submit(cmd.Context(), types.TxTypeTransfer, &types.TransferPayload{
				To:         req.Recipient,
				Mint:       req.Token,
				Amount:     req.Amount,
				References: []common.Hash{req.Reference},
			})
			return reportReceipt(cmd, receipt, err)
		},
	}
}

func newCloseCommand(opts *cliOptions) *cobra.Command {
	var customer, merchant string
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close a loyalty card and release its deposit to the customer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := opts.signer(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			customerAddr := signer.Address()
			if customer != "" {
				if customerAddr, err = crypto.DecodeAddress(customer); err != nil {
					return fmt.Errorf("customer: %w", err)
				}
			}
			merchantAddr, err := crypto.DecodeAddress(merchant)
			if err != nil {
				return fmt.Errorf("merchant: %w", err)
			}
			receipt, err := signer.Submit(cmd.Context(), types.TxTypeCloseLoyaltyCard, &types.CloseLoyaltyCardPayload{
				Customer: customerAddr,
				Merchant: merchantAddr,
			})
			return reportReceipt(cmd, receipt, err)
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "customer address (defaults to the keystore account)")
	cmd.Flags().StringVar(&merchant, "merchant", "", "merchant address")
	_ = cmd.MarkFlagRequired("merchant")
	return cmd
}

func newRecordCommand(opts *cliOptions) *cobra.Command {
	var customer, merchant string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Show the loyalty record for a customer and merchant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customerAddr, err := crypto.DecodeAddress(customer)
			if err != nil {
				return fmt.Errorf("customer: %w", err)
			}
			merchantAddr, err := crypto.DecodeAddress(merchant)
			if err != nil {
				return fmt.Errorf("merchant: %w", err)
			}
			record, err := opts.client().GetRecord(cmd.Context(), customerAddr, merchantAddr)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Record interface{} `json:"record"`
				Tier   string      `json:"tier"`
			}{record, record.Tier().String()})
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "customer address")
	cmd.Flags().StringVar(&merchant, "merchant", "", "merchant address")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("merchant")
	return cmd
}

func newURICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uri <payment-uri>",
		Short: "Decode a payment URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := payments.ParseURL(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"recipient": req.Recipient.String(),
				"amount":    req.Amount,
				"token":     req.Token.String(),
				"reference": req.Reference.Hex(),
				"label":     req.Label,
				"message":   req.Message,
			})
		},
	}
}

func reportReceipt(cmd *cobra.Command, receipt *types.Receipt, err error) error {
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), receipt); err != nil {
		return err
	}
	return core.ReceiptError(receipt)
}
