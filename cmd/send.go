package cmd

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/k0kubun/pp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/emailtovamos/bundler/core/chainio/aa"
	"github.com/emailtovamos/bundler/core/config"
	"github.com/emailtovamos/bundler/metrics"
	"github.com/emailtovamos/bundler/pkg/erc4337/account"
	"github.com/emailtovamos/bundler/pkg/erc4337/bundler"
	"github.com/emailtovamos/bundler/pkg/erc4337/paymaster"
	"github.com/emailtovamos/bundler/pkg/erc4337/preset"
)

var (
	sendTo    string
	sendValue string
	sendData  string

	sendCmd = &cobra.Command{
		Use:   "send",
		Short: "Build, sign and submit a user operation",
		Long: `Build a user operation executing a single call from the configured
smart account, sign it with the owner key, submit it to the bundler, and wait
for on-chain inclusion.

Use --config=path-to-your-config-file. default is=./config/bundler.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := runSend(); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				os.Exit(1)
			}
		},
	}
)

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "target address of the call")
	sendCmd.Flags().StringVar(&sendValue, "value", "0", "ETH amount to attach, in ether")
	sendCmd.Flags().StringVar(&sendData, "data", "0x", "hex calldata for the call")
	rootCmd.AddCommand(sendCmd)
}

// weiFromEther converts a decimal ether string to wei.
func weiFromEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("bad ether amount %q: %w", s, err)
	}
	wei := d.Mul(decimal.New(1, 18))
	if !wei.IsInteger() {
		return nil, fmt.Errorf("amount %q is below 1 wei precision", s)
	}
	return wei.BigInt(), nil
}

func runSend() error {
	if !common.IsHexAddress(sendTo) {
		return fmt.Errorf("--to must be a hex address, got %q", sendTo)
	}
	target := common.HexToAddress(sendTo)

	value, err := weiFromEther(sendValue)
	if err != nil {
		return err
	}
	data := common.FromHex(sendData)

	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logger
	aa.SetFactoryAddress(cfg.FactoryAddress)
	aa.SetEntrypointAddress(cfg.EntrypointAddress)

	client, err := ethclient.Dial(cfg.EthRpcUrl)
	if err != nil {
		return fmt.Errorf("dialing node %s failed: %w", cfg.EthRpcUrl, err)
	}
	defer client.Close()

	bundlerClient, err := bundler.NewBundlerClient(cfg.BundlerURL, cfg.ChainID, logger)
	if err != nil {
		return err
	}
	defer bundlerClient.Close()
	bundlerClient.SetMetrics(metrics.NewPipelineMetrics(prometheus.DefaultRegisterer))

	acct, err := account.NewSimpleAccount(client, cfg.EntrypointAddress, cfg.FactoryAddress, cfg.OwnerPrivateKey, cfg.Salt)
	if err != nil {
		return err
	}

	ctx := context.Background()
	opts := []preset.BuilderOption{preset.WithEntryPoint(cfg.EntrypointAddress)}
	if cfg.PaymasterPrivateKey != nil {
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return err
		}
		sponsor, err := paymaster.NewVerifyingPaymaster(cfg.PaymasterAddress, cfg.PaymasterPrivateKey, chainID, cfg.PaymasterValidity)
		if err != nil {
			return err
		}
		opts = append(opts, preset.WithPaymaster(sponsor))
	}

	builder, err := preset.NewBuilder(ctx, client, bundlerClient, acct, logger, opts...)
	if err != nil {
		return err
	}

	op, err := builder.BuildSignedOp(ctx, target, value, data)
	if err != nil {
		return err
	}
	pp.Println(op)

	opHash, ev, err := builder.SendAndWait(ctx, op, cfg.InclusionTimeout, cfg.PollInterval)
	if err != nil {
		return err
	}

	fmt.Printf("user operation hash: %s\n", opHash.Hex())
	if ev == nil {
		fmt.Printf("not yet included after %s, it may still land later\n", cfg.InclusionTimeout)
		return nil
	}
	fmt.Printf("included in tx %s (block %d, success=%v)\n", ev.TxHash.Hex(), ev.BlockNumber, ev.Success)
	fmt.Printf("%s/tx/%s\n", config.EtherscanURL(builder.ChainID()), ev.TxHash.Hex())
	return nil
}
