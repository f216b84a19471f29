// Package route はリクエストパスから転送先サービスを決定するルーティングテーブルを提供する。
//
// パターンは完全一致（/health）か接頭辞一致（/api/**）のいずれか。
// 一致するパターンが複数ある場合は最も長いリテラル部分を持つものを選び、
// 同じ長さなら先に登録されたものを選ぶ。テーブルは生成後に変更されない。
package route
