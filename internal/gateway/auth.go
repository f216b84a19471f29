package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/marketgate/pkg/credential"
	"github.com/nao1215/marketgate/pkg/httpclient"
	"github.com/nao1215/marketgate/pkg/middleware"
	"github.com/nao1215/marketgate/pkg/revocation"
	"github.com/nao1215/marketgate/pkg/token"
)

// トークンに載せるカスタムクレームのキー。
const (
	claimEmail = "email"
	claimRole  = "role"
)

// loginRequest はログインリクエストのボディ。
// username、email、loginのいずれか1つでログインIDを指定する。
type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (r loginRequest) loginID() string {
	for _, v := range []string{r.Login, r.Username, r.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// loginResponse はログイン成功時の応答。
type loginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresIn int64     `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin は資格情報を検証してトークンを発行するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.loginID() == "" || req.Password == "" {
			s.metrics.logins.WithLabelValues("invalid_request").Inc()
			c.JSON(http.StatusBadRequest, errorResponse{
				Error:   CodeInvalidRequest,
				Message: "ログインIDとパスワードを指定してください",
			})
			return
		}

		ctx := httpclient.WithRequestID(c.Request.Context(), middleware.GetRequestID(c))
		member, err := s.credentials.ValidateCredentials(ctx, req.loginID(), req.Password)
		if errors.Is(err, credential.ErrInvalidCredentials) {
			s.metrics.logins.WithLabelValues("rejected").Inc()
			c.JSON(http.StatusUnauthorized, errorResponse{
				Error:   CodeInvalidCredentials,
				Message: "ログインIDまたはパスワードが正しくありません",
			})
			return
		}
		if err != nil {
			s.metrics.logins.WithLabelValues("error").Inc()
			s.log.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("資格情報の検証に失敗")
			writeRejection(c, rejectInternal())
			return
		}

		custom := map[string]any{}
		if member.Email != "" {
			custom[claimEmail] = member.Email
		}
		if member.Role != "" {
			custom[claimRole] = member.Role
		}
		signed, claims, err := s.codec.Issue(member.ID, custom, s.opts.TokenTTL)
		if err != nil {
			s.metrics.logins.WithLabelValues("error").Inc()
			s.log.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("トークン発行に失敗")
			writeRejection(c, rejectInternal())
			return
		}

		s.metrics.logins.WithLabelValues("issued").Inc()
		c.JSON(http.StatusOK, loginResponse{
			Token:     signed,
			TokenType: "Bearer",
			ExpiresIn: int64(claims.ExpiresAt.Sub(claims.IssuedAt) / time.Second),
			ExpiresAt: claims.ExpiresAt.UTC(),
		})
	}
}

// handleLogout はトークンを失効させるハンドラを返す。
// トークンが無い、あるいは既に無効な場合も200を返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := token.ParseBearer(c.GetHeader("Authorization"))
		if raw != "" {
			if claims, err := s.codec.Verify(raw); err == nil {
				ttl := claims.TTLRemaining(s.now())
				if err := s.revocations.Revoke(c.Request.Context(), revocation.Key(raw), ttl); err != nil {
					s.log.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("トークンの失効に失敗")
					writeRejection(c, rejectInternal())
					return
				}
				s.metrics.revocations.Inc()
				s.log.Info().
					Str("subject", claims.Subject).
					Str("jti", claims.ID).
					Dur("ttl_remaining", ttl).
					Msg("トークンを失効しました")
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
	}
}

// checkRevokedRequest は失効確認リクエストのボディ。
type checkRevokedRequest struct {
	Token string `json:"token"`
}

// handleCheckRevoked はトークンが失効しているかを返すハンドラを返す。
// トークンはAuthorizationヘッダー、またはPOSTボディのtokenで指定する。
func (s *Server) handleCheckRevoked() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := token.ParseBearer(c.GetHeader("Authorization"))
		if raw == "" && c.Request.Method == http.MethodPost {
			var req checkRevokedRequest
			if err := c.ShouldBindJSON(&req); err == nil {
				raw = strings.TrimSpace(req.Token)
			}
		}
		if raw == "" {
			c.JSON(http.StatusBadRequest, errorResponse{
				Error:   CodeMissingToken,
				Message: "確認するトークンを指定してください",
			})
			return
		}

		revoked, err := s.revocations.IsRevoked(c.Request.Context(), revocation.Key(raw))
		if err != nil {
			s.log.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("失効状態の確認に失敗")
			writeRejection(c, rejectInternal())
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": revoked})
	}
}
