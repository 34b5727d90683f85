// API Gatewayのエントリポイント。
// 外部からアクセス可能な唯一の入口として、ルート照合・レート制限・認証を行い
// 内部サービスへリクエストを転送する。
package main

import (
	"os"
)

// version はビルド時に -ldflags で上書きされる。
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
