// Package gateway はマーケットプレイスのエッジで動くAPI Gatewayの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
// 全てのリクエストは流量制御、認証、ルート解決、認可の順にフィルタを通過し、
// いずれかで拒否された時点でJSONのエラー応答を1つだけ返して終了する。
// 通過したリクエストは検証済みの会員IDをX-User-Idヘッダーに載せて内部サービスへ転送する。
//
// ログイン、ログアウト、失効確認のエンドポイントはゲートウェイ自身が処理する。
package gateway
