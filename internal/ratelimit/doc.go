// Package ratelimit は固定ウィンドウ方式のリクエスト受付制御を提供する。
//
// クライアントキーごとに「ウィンドウ開始時刻」と「カウント」を保持し、
// ウィンドウ内のカウントが上限を超えたリクエストを拒否する。
// 状態の保存先はプロセス内のMemoryStoreと、複数インスタンスで共有するRedisStoreから選べる。
package ratelimit
