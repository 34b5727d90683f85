// Package registry はバックエンドサービスの静的なレジストリを提供する。
//
// 起動時に設定から構築され、以降は読み取り専用となる。
// 論理サービス名からベースURL・タイムアウト・リトライ回数を解決する。
package registry
