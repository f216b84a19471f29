// Package logger はゲートウェイ全体で使用する構造化ロガーを生成する。
//
// ロガーはグローバル変数として保持せず、生成したものを各コンポーネントに
// コンストラクタ経由で渡す。
package logger
