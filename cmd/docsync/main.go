package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docsync/cmd/docsync/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "docsync",
		Usage: "ドキュメントリポジトリとインデックスストアのWebhook駆動同期サーバ",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Webhook受信・同期サーバを起動",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Usage: "ログレベル (debug/info/warn/error)",
						Value: "info",
					},
					&cli.StringFlag{
						Name:  "log-format",
						Usage: "ログ出力形式 (json/text)",
						Value: "json",
					},
				},
				Action: commands.ServeAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
