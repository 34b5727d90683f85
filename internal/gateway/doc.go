// Package gateway はAPI Gatewayのリクエスト処理を提供する。
//
// 外部からアクセス可能な唯一の入口であり、すべてのリクエストを
// ルート照合・レート制限・認証・転送・応答変換の順に処理する。
// /health と /version と /metrics はこのパイプラインの外で応答する。
package gateway
