package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nao1215/marketgate/internal/config"
	"github.com/nao1215/marketgate/pkg/credential"
	"github.com/nao1215/marketgate/pkg/revocation"
	"github.com/nao1215/marketgate/pkg/route"
)

// secretByteLength は生成する署名用シークレットのバイト数。
const secretByteLength = 32

var randomRead = rand.Read

func newGenerateSecretCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-secret",
		Short: "JWT_SECRETに設定するHS256署名用シークレットを生成する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := generateRandomHex(secretByteLength)
			if err != nil {
				return fmt.Errorf("JWT_SECRETの生成に失敗: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "JWT_SECRET=%s\n", secret)
			return err
		},
	}
}

func generateRandomHex(byteLength int) (string, error) {
	buf := make([]byte, byteLength)
	if _, err := randomRead(buf); err != nil {
		return "", fmt.Errorf("乱数の読み込みに失敗: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func newMemberCommand(defaults *config.Config) *cobra.Command {
	member := &cobra.Command{
		Use:   "member",
		Short: "SQLiteの会員テーブルを操作する",
	}

	var dbPath, loginID, email, password, role string
	add := &cobra.Command{
		Use:   "add",
		Short: "会員を登録する。パスワード省略時は標準入力から1行読み込む",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("パスワードを指定してください")
				}
				password = strings.TrimRight(line, "\r\n")
			}

			db, err := openSQLite(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := credential.NewSQLiteValidator(cmd.Context(), db, zerolog.Nop())
			if err != nil {
				return err
			}
			m, err := v.AddMember(cmd.Context(), loginID, email, password, role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "会員を登録しました: id=%s role=%s\n", m.ID, m.Role)
			return err
		},
	}
	add.Flags().StringVar(&dbPath, "db", defaults.DatabasePath, "SQLiteファイルのパス")
	add.Flags().StringVar(&loginID, "login", "", "ログインID（必須）")
	add.Flags().StringVar(&email, "email", "", "メールアドレス（必須）")
	add.Flags().StringVar(&password, "password", "", "パスワード")
	add.Flags().StringVar(&role, "role", credential.DefaultRole, "ロール")
	_ = add.MarkFlagRequired("login")
	_ = add.MarkFlagRequired("email")

	member.AddCommand(add)
	return member
}

// storeFlags は失効ストアを開くためのフラグ。
type storeFlags struct {
	backend  string
	dbPath   string
	redisURL string
}

func (f *storeFlags) register(cmd *cobra.Command, defaults *config.Config) {
	cmd.Flags().StringVar(&f.backend, "backend", defaults.RevocationBackend, "失効ストア（sqlite|redis）")
	cmd.Flags().StringVar(&f.dbPath, "db", defaults.DatabasePath, "SQLiteファイルのパス")
	cmd.Flags().StringVar(&f.redisURL, "redis-url", defaults.RedisURL, "RedisのURL")
}

// open は失効ストアを開く。プロセス外に状態を持たないメモリストアは対象外。
func (f *storeFlags) open(cmd *cobra.Command) (revocation.Store, error) {
	backend := strings.ToLower(f.backend)
	if backend == config.RevocationMemory {
		return nil, errors.New("メモリの失効ストアはコマンドから操作できません")
	}
	if backend != config.RevocationSQLite {
		return openStore(cmd.Context(), backend, f.redisURL, nil, zerolog.Nop())
	}
	db, err := openSQLite(f.dbPath)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cmd.Context(), backend, "", db, zerolog.Nop())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func newRevocationCommand(defaults *config.Config) *cobra.Command {
	revocationCmd := &cobra.Command{
		Use:   "revocation",
		Short: "失効ストアを操作する",
	}

	var purgeFlags storeFlags
	purge := &cobra.Command{
		Use:   "purge",
		Short: "期限切れの失効記録を削除する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := purgeFlags.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d件の期限切れ記録を削除しました\n", n)
			return err
		},
	}
	purgeFlags.register(purge, defaults)

	var removeFlags storeFlags
	var rawToken, key string
	remove := &cobra.Command{
		Use:   "remove",
		Short: "失効記録を削除してトークンを再び有効にする",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (rawToken == "") == (key == "") {
				return errors.New("--tokenか--keyのどちらか一方を指定してください")
			}
			if rawToken != "" {
				key = revocation.Key(rawToken)
			}

			store, err := removeFlags.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Remove(cmd.Context(), key); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "失効記録を削除しました: %s\n", key)
			return err
		},
	}
	removeFlags.register(remove, defaults)
	remove.Flags().StringVar(&rawToken, "token", "", "トークン文字列")
	remove.Flags().StringVar(&key, "key", "", "トークンのSHA-256ハッシュ（16進）")

	revocationCmd.AddCommand(purge, remove)
	return revocationCmd
}

func newRoutesCommand(defaults *config.Config) *cobra.Command {
	var file, resolve string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "ルート定義を検証して一覧表示する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			routes, err := route.LoadFile(file)
			if err != nil {
				return err
			}
			table, err := route.NewTable(routes)
			if err != nil {
				return err
			}

			if resolve != "" {
				rt, ok := table.Resolve(resolve)
				if !ok {
					return fmt.Errorf("%s: %w", resolve, route.ErrNotFound)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s %s\n", route.CleanPath(resolve), rt.Pattern, rt.Upstream.Redacted())
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PATTERN\tUPSTREAM\tPUBLIC\tROLE")
			for _, rt := range table.Routes() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", rt.Pattern, rt.Upstream.Redacted(), rt.Public, rt.RequiredRole)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "file", defaults.RoutesFile, "ルート定義ファイル")
	cmd.Flags().StringVar(&resolve, "resolve", "", "指定したパスが解決されるルートを表示する")
	return cmd
}
