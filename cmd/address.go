package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/emailtovamos/bundler/core/chainio/aa"
	"github.com/emailtovamos/bundler/core/config"
)

// addressCmd resolves the smart account address for the configured owner key
// without submitting anything.
var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Show the smart account address for the configured owner",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runAddress(); err != nil {
			fmt.Fprintf(os.Stderr, "address resolution failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}

func runAddress() error {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return err
	}
	aa.SetFactoryAddress(cfg.FactoryAddress)
	aa.SetEntrypointAddress(cfg.EntrypointAddress)

	client, err := ethclient.Dial(cfg.EthRpcUrl)
	if err != nil {
		return fmt.Errorf("dialing node %s failed: %w", cfg.EthRpcUrl, err)
	}
	defer client.Close()

	ctx := context.Background()
	initCode, err := aa.GetInitCode(aa.FactoryAddress, cfg.OwnerAddress, cfg.Salt)
	if err != nil {
		return err
	}
	sender, err := aa.GetSenderAddress(ctx, client, aa.EntrypointAddress, initCode)
	if err != nil {
		return err
	}

	deployed, err := aa.HasCode(ctx, client, sender)
	if err != nil {
		return err
	}

	fmt.Printf("owner:         %s\n", cfg.OwnerAddress.Hex())
	fmt.Printf("smart account: %s\n", sender.Hex())
	if deployed {
		fmt.Println("status:        deployed")
	} else {
		fmt.Println("status:        counterfactual (initCode will be attached to the first operation)")
	}
	return nil
}
