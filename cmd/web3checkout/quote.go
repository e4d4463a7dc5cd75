package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/vitwit/web3checkout/clients"
	"github.com/vitwit/web3checkout/pricing"
	"github.com/vitwit/web3checkout/registry"
)

var (
	quoteChain  string
	quoteCoins  []string
	quoteAmount string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Convert a fiat amount into token amounts at the current price",
	Example: `  web3checkout quote --chain ETH --coin USDT --amount 50.00
  web3checkout quote --chain polygon --amount 12.5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fiat, err := decimal.NewFromString(quoteAmount)
		if err != nil {
			return fmt.Errorf("invalid --amount %q: %w", quoteAmount, err)
		}

		reg := registry.Default()
		key, err := reg.NormalizeChain(quoteChain)
		if err != nil {
			return err
		}
		chain, _ := reg.Chain(key)

		coins := quoteCoins
		if len(coins) == 0 {
			coins = chain.Symbols()
		}

		oracle := clients.NewCoinGeckoClient(cfg.QuoteURL, clients.NewHTTPClient(cfg.HTTPTimeout()))
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.HTTPTimeout())
		defer cancel()

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Chain", "Coin", "Price " + strings.ToUpper(cfg.FiatCurrency), "Amount", "Contract"})
		table.SetBorder(false)

		for _, coin := range coins {
			coin = strings.ToUpper(coin)
			_, token, err := reg.Resolve(key, coin)
			if err != nil {
				return err
			}
			contract := "native"
			if !token.IsNative() {
				contract = *token.Contract
			}

			ticket, err := oracle.Price(ctx, token.PriceFeedID, cfg.FiatCurrency)
			if err != nil {
				log.Warn("quote unavailable", map[string]any{"coin": coin, "error": err})
				table.Append([]string{chain.DisplayName, coin, "-", "-", contract})
				continue
			}
			amount, err := pricing.Convert(fiat, ticket.FiatPerUnit)
			if err != nil {
				return err
			}
			table.Append([]string{chain.DisplayName, coin, ticket.FiatPerUnit.String(), pricing.Format(amount), contract})
		}

		table.Render()
		return nil
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteChain, "chain", "ETH", "chain name or alias (ETH, BSC, POLYGON, ...)")
	quoteCmd.Flags().StringSliceVar(&quoteCoins, "coin", nil, "coin symbols; all coins of the chain when empty")
	quoteCmd.Flags().StringVar(&quoteAmount, "amount", "", "fiat amount to convert")
	_ = quoteCmd.MarkFlagRequired("amount")
}
