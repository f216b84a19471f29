// Package token はゲートウェイが発行・検証するBearerトークン（HS256署名のJWT）を扱う。
//
// 検証は「構造の解析」「署名の再計算と定数時間比較」「有効期限」の順に行い、
// 失敗理由をErrMalformed、ErrInvalidSignature、ErrExpiredのいずれかで返す。
package token
