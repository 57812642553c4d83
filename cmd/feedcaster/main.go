// Command feedcaster はRSS記事からSNS投稿を生成・公開するサービスを起動する。
//
//	feedcaster [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/feedcaster/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "feedcaster: %v\n", err)
		os.Exit(1)
	}
}
