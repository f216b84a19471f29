// Package credential はログイン時の資格情報検証を提供する。
//
// ゲートウェイ自身は会員データを所有しない。検証はValidatorインターフェース越しに行い、
// 単体運用向けのSQLite実装と、会員サービスへ問い合わせるHTTP実装を用意する。
package credential
