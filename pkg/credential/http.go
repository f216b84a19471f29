package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nao1215/marketgate/pkg/httpclient"
)

// VerifyPath は会員サービスの資格情報検証エンドポイント。
const VerifyPath = "/internal/credentials/verify"

// HTTPValidator は会員サービスに資格情報の検証を問い合わせる。
type HTTPValidator struct {
	client *httpclient.Client
}

// NewHTTPValidator は新しいHTTPValidatorを生成する。
func NewHTTPValidator(client *httpclient.Client) *HTTPValidator {
	return &HTTPValidator{client: client}
}

type verifyRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// ValidateCredentials は会員サービスに検証を依頼する。
// 401と404はErrInvalidCredentials、それ以外の失敗はErrUnavailableとして返す。
func (v *HTTPValidator) ValidateCredentials(ctx context.Context, login, password string) (Member, error) {
	var m Member
	err := v.client.PostJSON(ctx, VerifyPath, verifyRequest{Login: login, Password: password}, &m)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusNotFound) {
			return Member{}, ErrInvalidCredentials
		}
		return Member{}, fmt.Errorf("会員サービスへの問い合わせに失敗: %w", errors.Join(ErrUnavailable, err))
	}
	if m.ID == "" {
		return Member{}, fmt.Errorf("会員サービスの応答に会員IDがない: %w", ErrUnavailable)
	}
	return m, nil
}
