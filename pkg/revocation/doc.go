// Package revocation はログアウト等で失効させたトークンを有効期限まで記録する。
//
// 記録の有効期間は常にトークン自身の残り有効期間と一致させる。
// これより長いと記録が無駄に残り続け、短いとトークンの期限前に記録が消えて再利用を許してしまう。
// キーにはトークン本体ではなくKeyで計算したハッシュを使い、ストアに再利用可能な秘密を残さない。
package revocation
