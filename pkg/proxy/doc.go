// Package proxy は解決済みのルートに従ってリクエストを上流サービスへ転送する。
//
// 転送先への接続失敗やタイムアウトは呼び出し側がステータスに変換できるよう
// 番兵エラーとして返す。失敗した転送を自動で再試行することはない。
package proxy
