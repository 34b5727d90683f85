// Package httpclient はゲートウェイからバックエンドサービスへの通信に使うHTTPクライアントを提供する。
//
// タイムアウトは呼び出しごとにcontextで与えるため、クライアント自体には設定しない。
// リダイレクトは追跡せず、バックエンドの応答をそのままクライアントへ返す。
// あわせて、送信エラーをタイムアウトと接続エラーに分類する関数を提供する。
package httpclient
