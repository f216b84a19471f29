// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// ゲートウェイが会員サービスなどの内部APIを呼び出す際に使用する。
// 2xx以外の応答はStatusErrorとして返すため、呼び出し側はステータスコードで分岐できる。
package httpclient
