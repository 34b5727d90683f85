// Package dispatch は受け付けたリクエストをバックエンドサービスへ転送する。
//
// レジストリでサービスを解決し、ルートのプレフィックスを除いたパスで呼び出す。
// 各試行はサービスごとのタイムアウトで打ち切られ、GET/HEADのみ
// タイムアウトと接続エラーに対して固定間隔でリトライする。
// 結果はOutcomeとして返し、HTTPレスポンスへの変換は呼び出し側が行う。
package dispatch
