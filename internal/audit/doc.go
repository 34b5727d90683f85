// Package audit はトラフィック監査イベントの配送先（シンク）を提供する。
//
// リクエスト処理を遅延させないよう、ゲートウェイはAsyncSink経由でイベントを渡す。
// バッファが一杯の場合、イベントは破棄される。
package audit
