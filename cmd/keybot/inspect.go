package main

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/keybot/config"
	"github.com/alejandrodnm/keybot/internal/adapters/onchain"
	"github.com/alejandrodnm/keybot/internal/domain"
	"github.com/alejandrodnm/keybot/internal/ports"
)

// runInspect prints read-only market data for one subject and exits.
func runInspect(ctx context.Context, cfg *config.Config, subjectHex string, out io.Writer) error {
	subject, err := domain.ParseAddress(subjectHex)
	if err != nil {
		return err
	}

	client, err := onchain.Dial(ctx, cfg.Chain.RPCURL, cfg.Market(), cfg.Chain.ChainID)
	if err != nil {
		return err
	}
	defer client.Close()

	var owner *common.Address
	if cfg.Execution.PrivateKey != "" {
		w, err := onchain.NewWallet(client, cfg.Execution.PrivateKey)
		if err != nil {
			return err
		}
		a := w.Address()
		owner = &a
	}
	return inspectSubject(ctx, client, owner, subject, cfg.Ceiling(), out)
}

// inspectSubject reads quote, sell price, fee rate and (with an owner) the
// share balance. A failed read shows as "n/a"; only a failed buy quote is an
// error, since nothing else is meaningful without it.
func inspectSubject(ctx context.Context, chain ports.ChainReader, owner *common.Address, subject common.Address, ceiling *big.Int, out io.Writer) error {
	quote, err := chain.BuyPriceAfterFee(ctx, subject, 1)
	if err != nil {
		return fmt.Errorf("inspect: buy price: %w", err)
	}

	fees, err := chain.FeeRate(ctx)
	feeLabel := fmt.Sprintf("%.2f%%", fees.Float()*100)
	if err != nil {
		fees = domain.DefaultFeeRate()
		feeLabel = fmt.Sprintf("%.2f%% (default)", fees.Float()*100)
	}

	sell := "n/a"
	if v, err := chain.SellPriceAfterFee(ctx, subject, 1); err == nil {
		sell = domain.FormatEther(v)
	}

	balance := "-"
	if owner != nil {
		balance = "n/a"
		if v, err := chain.SharesBalance(ctx, *owner, subject); err == nil {
			balance = v.String()
		}
	}

	supply := domain.SupplyFromQuote(quote, fees)
	entry := domain.EntryPrice(quote, fees)
	eligible := "no"
	if ceiling != nil && entry.Cmp(ceiling) <= 0 {
		eligible = "yes"
	}

	fmt.Fprintf(out, "subject %s\n", subject.Hex())
	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	table.Append("Supply (implied)", fmt.Sprintf("%d", supply))
	table.Append("Buy quote (ETH)", domain.FormatEther(quote))
	table.Append("Sell quote (ETH)", sell)
	table.Append("Entry price (ETH)", domain.FormatEther(entry))
	table.Append("Fee rate", feeLabel)
	table.Append("Under ceiling", eligible)
	table.Append("Shares held", balance)
	table.Render()
	return nil
}
