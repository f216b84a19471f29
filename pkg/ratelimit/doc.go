// Package ratelimit はクライアント単位のトークンバケットによる流量制御を提供する。
//
// 認証より前に実行されるため、署名検証を伴う高コストな処理に到達する前に
// 大量の未認証リクエストを安価に拒否できる。
package ratelimit
