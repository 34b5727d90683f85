// Package event はゲートウェイを通過したトラフィックの監査イベントを定義する。
//
// 受付・拒否・転送結果をイベントとして記録し、監査シンクへ非同期に配送する。
// イベントは不変で、Dataには種類ごとの詳細をJSONで保持する。
package event
