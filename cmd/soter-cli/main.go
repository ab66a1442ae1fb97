package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	soter "github.com/WilliamRen/themis"
	"github.com/WilliamRen/themis/hashtype"
	"github.com/WilliamRen/themis/securemem"
	"github.com/WilliamRen/themis/version"
)

func newContext(hashName string) (*soter.AsymCipherContext, error) {
	if hashName == "" {
		return soter.New(soter.PaddingOAEP)
	}
	hashType, err := hashtype.DeserializeHashType([]byte(hashName))
	if err != nil {
		return nil, err
	}
	return soter.New(soter.PaddingOAEP, soter.WithOAEPHash(hashType))
}

// loadKeyContext imports a key container file into a fresh context.
// Private containers are held in locked memory until imported.
func loadKeyContext(keyPath, hashName string) (*soter.AsymCipherContext, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	secret := securemem.New(data)
	defer secret.Destroy()

	ctx, err := newContext(hashName)
	if err != nil {
		return nil, err
	}
	if err := ctx.ImportKey(secret.Bytes()); err != nil {
		ctx.Close()
		return nil, err
	}
	return ctx, nil
}

func exportAll(ctx *soter.AsymCipherContext, private bool) ([]byte, error) {
	_, err := ctx.ExportKey(nil, private)
	required, ok := soter.BufferTooSmall(err)
	if !ok {
		return nil, err
	}
	buf := make([]byte, required)
	n, err := ctx.ExportKey(buf, private)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func encryptAll(ctx *soter.AsymCipherContext, plaintext []byte) ([]byte, error) {
	_, err := ctx.Encrypt(plaintext, nil)
	required, ok := soter.BufferTooSmall(err)
	if !ok {
		return nil, err
	}
	buf := make([]byte, required)
	n, err := ctx.Encrypt(plaintext, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func decryptAll(ctx *soter.AsymCipherContext, ciphertext []byte) ([]byte, error) {
	required, err := ctx.DecryptSize()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, required)
	n, err := ctx.Decrypt(ciphertext, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA key pair and write tagged key container files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keyDir, err := cmd.Flags().GetString("key-dir")
			if err != nil {
				return err
			}

			ctx, err := soter.New(soter.PaddingOAEP)
			if err != nil {
				return err
			}
			defer ctx.Close()
			if err := ctx.GenKey(); err != nil {
				return err
			}

			priv, err := exportAll(ctx, true)
			if err != nil {
				return err
			}
			defer securemem.Wipe(priv)
			pub, err := exportAll(ctx, false)
			if err != nil {
				return err
			}

			id := uuid.New().String()
			privPath := filepath.Join(keyDir, fmt.Sprintf("%s-private.skey", id))
			pubPath := filepath.Join(keyDir, fmt.Sprintf("%s-public.skey", id))
			if err := os.WriteFile(privPath, priv, 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
				return err
			}
			log.WithField("private", privPath).WithField("public", pubPath).Info("key pair written")
			return nil
		},
	}
	cmd.Flags().String("key-dir", ".", "directory to write the key container files into")
	return cmd
}

func encryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "OAEP-encrypt a file with a public key container",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keyPath, _ := cmd.Flags().GetString("key")
			inPath, _ := cmd.Flags().GetString("in")
			outPath, _ := cmd.Flags().GetString("out")
			hashName, _ := cmd.Flags().GetString("oaep-hash")

			ctx, err := loadKeyContext(keyPath, hashName)
			if err != nil {
				return err
			}
			defer ctx.Close()

			plaintext, err := os.ReadFile(inPath)
			if err != nil {
				return err
			}
			defer securemem.Wipe(plaintext)
			ciphertext, err := encryptAll(ctx, plaintext)
			if err != nil {
				return err
			}
			return os.WriteFile(outPath, ciphertext, 0o644)
		},
	}
	addCipherFlags(cmd)
	return cmd
}

func decryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a file with a private key container",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keyPath, _ := cmd.Flags().GetString("key")
			inPath, _ := cmd.Flags().GetString("in")
			outPath, _ := cmd.Flags().GetString("out")
			hashName, _ := cmd.Flags().GetString("oaep-hash")

			ctx, err := loadKeyContext(keyPath, hashName)
			if err != nil {
				return err
			}
			defer ctx.Close()

			ciphertext, err := os.ReadFile(inPath)
			if err != nil {
				return err
			}
			plaintext, err := decryptAll(ctx, ciphertext)
			if err != nil {
				return err
			}
			return os.WriteFile(outPath, plaintext, 0o600)
		},
	}
	addCipherFlags(cmd)
	return cmd
}

func pubkeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Extract the public key container from a private one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keyPath, _ := cmd.Flags().GetString("key")
			outPath, _ := cmd.Flags().GetString("out")

			ctx, err := loadKeyContext(keyPath, "")
			if err != nil {
				return err
			}
			defer ctx.Close()

			pub, err := exportAll(ctx, false)
			if err != nil {
				return err
			}
			return os.WriteFile(outPath, pub, 0o644)
		},
	}
	cmd.Flags().String("key", "", "private key container file")
	cmd.Flags().String("out", "", "output file for the public key container")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("out")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the library version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version.String())
		},
	}
}

func addCipherFlags(cmd *cobra.Command) {
	cmd.Flags().String("key", "", "key container file")
	cmd.Flags().String("in", "", "input file")
	cmd.Flags().String("out", "", "output file")
	cmd.Flags().String("oaep-hash", "", "OAEP digest (sha1, sha256, sha512); default sha1")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("out")
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "soter-cli",
		Short:         "RSA-OAEP asymmetric cipher operations on tagged key containers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(keygenCmd(), encryptCmd(), decryptCmd(), pubkeyCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
