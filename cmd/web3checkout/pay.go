package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	checkout "github.com/vitwit/web3checkout"
	"github.com/vitwit/web3checkout/clients"
	"github.com/vitwit/web3checkout/config"
	"github.com/vitwit/web3checkout/registry"
	"github.com/vitwit/web3checkout/types"
	"github.com/vitwit/web3checkout/utils"
	"github.com/vitwit/web3checkout/wallet"
)

var (
	payOrder   string
	payToken   string
	paySuccess string
	payFail    string
	payInvoice string
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Pay an order headlessly with the key from " + config.EnvPrivateKey,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.PrivateKey == "" {
			return types.NewError(types.ReasonConfigError, config.EnvPrivateKey+" is not set", nil)
		}
		key, err := utils.PrivateKeyFromHex(cfg.PrivateKey)
		if err != nil {
			return types.NewError(types.ReasonConfigError, "invalid private key", err)
		}

		ctx, stop := signalContext()
		defer stop()

		rec, _ := recorder()
		nav := checkout.NavigatorFunc(func(url string) {
			fmt.Println(url)
		})
		co, err := checkout.New(cfg, nav,
			checkout.WithLogger(log),
			checkout.WithMetrics(rec),
			checkout.WithTickHandler(func(remaining int) {
				if remaining%60 == 0 {
					log.Info("payment window", map[string]any{"remaining_seconds": remaining})
				}
			}),
		)
		if err != nil {
			return err
		}
		defer co.Abandon()

		order, err := co.Start(ctx, payOrder, payToken, checkout.WithReturnURLs(paySuccess, payFail))
		if err != nil {
			return err
		}
		if !co.State().Quoted {
			if _, err := co.Quote(ctx); err != nil {
				return err
			}
		}

		rpc := cfg.RPC[order.ChainKey.String()]
		if rpc == "" {
			return types.NewError(types.ReasonConfigError, "no rpc endpoint for chain "+order.ChainKey.String(), nil)
		}
		backend, err := clients.NewEVMClient(ctx, rpc)
		if err != nil {
			return err
		}

		signer, err := wallet.NewKeyProvider(key, backend)
		if err != nil {
			backend.Close()
			return err
		}
		defer signer.Close()

		if _, err := co.Connect(ctx, signer); err != nil {
			return err
		}

		attempt, err := co.Pay(ctx)
		if attempt != nil {
			out, _ := json.MarshalIndent(attempt, "", "  ")
			fmt.Fprintln(os.Stderr, string(out))
		}
		if err != nil {
			return err
		}

		chain, _ := registry.Default().Chain(order.ChainKey)
		log.Info("payment confirmed", map[string]any{"tx": attempt.TxHash, "explorer": chain.TxURL(attempt.TxHash)})

		if payInvoice != "" {
			return requestInvoice(cmd, order, attempt)
		}
		return nil
	},
}

func requestInvoice(cmd *cobra.Command, order *types.Order, attempt *types.PaymentAttempt) error {
	if cfg.InvoiceURL == "" {
		return types.NewError(types.ReasonConfigError, "invoice_url is not configured", nil)
	}

	invoices := clients.NewInvoiceClient(cfg.InvoiceURL, cfg.InvoiceSecret, clients.NewHTTPClient(cfg.HTTPTimeout()))
	doc, err := invoices.Request(cmd.Context(), clients.InvoiceRequest{
		OrderID:       order.OrderID,
		Name:          order.CustomerName,
		Email:         order.CustomerEmail,
		FiatAmount:    order.FiatAmount,
		Chain:         order.ChainKey.String(),
		Coin:          order.CoinSymbol,
		TxHash:        attempt.TxHash,
		WalletAddress: attempt.Payer,
		UserID:        order.UserID,
		Provider:      "local-key",
		PaymentMethod: "On-Chain Web3-Direct",
	})
	if err != nil {
		// the payment itself is final
		log.Error("invoice request failed", map[string]any{"order": order.OrderID, "error": err})
		return nil
	}

	path := filepath.Join(payInvoice, doc.Filename)
	if err := os.WriteFile(path, doc.Content, 0o644); err != nil {
		return fmt.Errorf("write invoice: %w", err)
	}
	log.Info("invoice saved", map[string]any{"path": path})
	return nil
}

func init() {
	payCmd.Flags().StringVar(&payOrder, "order", "", "order id")
	payCmd.Flags().StringVar(&payToken, "token", "", "order verification token")
	payCmd.Flags().StringVar(&paySuccess, "success", "", "return URL after a confirmed payment (must be on redirect_hosts)")
	payCmd.Flags().StringVar(&payFail, "fail", "", "return URL after a failed payment (must be on redirect_hosts)")
	payCmd.Flags().StringVar(&payInvoice, "invoice-dir", "", "request the invoice after payment and save it in this directory")
	_ = payCmd.MarkFlagRequired("order")
	_ = payCmd.MarkFlagRequired("token")
}
