// Package middleware はゲートウェイで使用するGinミドルウェアを提供する。
//
// パニックリカバリ、CORS、リクエストID、アクセスログ、ボディサイズ制限を含む。
// エラー応答はすべて {success:false, error, code} の形式で返す。
package middleware
