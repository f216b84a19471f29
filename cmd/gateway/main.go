// API Gatewayサービスのエントリポイント。
// マーケットプレイスの会員、カート、商品サービスの前段で、
// トークン発行、失効管理、流量制御、ルーティングを担当する。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/marketgate/internal/config"
)

func main() {
	defaults, err := config.Defaults()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCommand(defaults).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand はルートコマンドを生成する。
// 運用コマンドのフラグ既定値はdefaults（環境変数から読み込んだ設定）から取る。
func newRootCommand(defaults *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "marketgate API Gateway",
		RunE:  runServe,
	}
	root.SilenceUsage = true
	root.AddCommand(newServeCommand())
	root.AddCommand(newGenerateSecretCommand())
	root.AddCommand(newMemberCommand(defaults))
	root.AddCommand(newRevocationCommand(defaults))
	root.AddCommand(newRoutesCommand(defaults))
	return root
}
