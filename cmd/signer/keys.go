package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xueqianLu/hsmsigner/internal/signer"
)

func newGenerateKeyCmd(a *app) *cobra.Command {
	var (
		label      string
		exportable bool
	)
	cmd := &cobra.Command{
		Use:   "generate-key",
		Short: "Create a secp256k1 signing key on the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.newRegistry(cmd.Context(), nil)
			if err != nil {
				return err
			}
			s, err := registry.Create(cmd.Context(), signer.KeyOptions{Label: label, Exportable: exportable})
			if err != nil {
				return err
			}
			id := s.Identity()
			fmt.Fprintf(cmd.OutOrStdout(), "Key ID: %s\nAddress: %s\n", id.Handle, id.Address.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "key label (file prefix, Vault key name or KMS alias)")
	cmd.Flags().BoolVar(&exportable, "exportable", false, "allow the private key to be exported where the backend supports it")
	return cmd
}

func newAddressCmd(a *app) *cobra.Command {
	var keyID string
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the Ethereum address of a backend key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.newRegistry(cmd.Context(), nil)
			if err != nil {
				return err
			}
			address, err := registry.Address(cmd.Context(), signer.KeyHandle(keyID))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), address.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "key id")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
