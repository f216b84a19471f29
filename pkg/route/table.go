package route

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// prefixWildcard は接頭辞一致パターンの末尾。
const prefixWildcard = "/**"

// ErrNotFound はパスに一致するルートがないことを表す。
var ErrNotFound = errors.New("route_not_found")

// Route は1件のルーティング定義。
type Route struct {
	// Pattern はパスパターン。"/api/cart/**" または "/health" の形式。
	Pattern string
	// Upstream は転送先サービスのベースURL。
	Upstream *url.URL
	// Public がtrueの場合は認証を行わない。
	Public bool
	// RequiredRole が空でない場合はトークンのroleクレームが一致する必要がある。
	RequiredRole string
}

// literal はパターンのうちワイルドカードを除いた部分を返す。
func (r Route) literal() string {
	if strings.HasSuffix(r.Pattern, prefixWildcard) {
		return strings.TrimSuffix(r.Pattern, prefixWildcard)
	}
	return r.Pattern
}

// isPrefix は接頭辞一致パターンかどうかを返す。
func (r Route) isPrefix() bool {
	return strings.HasSuffix(r.Pattern, prefixWildcard)
}

// matches はcleanedPathがパターンに一致するかを返す。
func (r Route) matches(cleanedPath string) bool {
	lit := r.literal()
	if !r.isPrefix() {
		return cleanedPath == lit
	}
	if lit == "" {
		return true
	}
	return cleanedPath == lit || strings.HasPrefix(cleanedPath, lit+"/")
}

// Table は不変のルーティングテーブル。並行に参照してよい。
type Table struct {
	// ordered は具体性の高い順（同順位は登録順）に並べたルート。
	ordered []Route
	// registered は登録順のルート。
	registered []Route
}

// NewTable はルート定義からテーブルを生成する。
// パターンの重複や不正なURLはエラーになる。
func NewTable(routes []Route) (*Table, error) {
	seen := make(map[string]struct{}, len(routes))
	registered := make([]Route, 0, len(routes))

	for i, r := range routes {
		if err := validate(r); err != nil {
			return nil, fmt.Errorf("ルート%d (%s) が不正です: %w", i, r.Pattern, err)
		}
		if _, dup := seen[r.Pattern]; dup {
			return nil, fmt.Errorf("ルート%d: パターン %s が重複しています", i, r.Pattern)
		}
		seen[r.Pattern] = struct{}{}
		registered = append(registered, r)
	}

	ordered := append([]Route(nil), registered...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].literal()) > len(ordered[j].literal())
	})

	return &Table{ordered: ordered, registered: registered}, nil
}

// validate は1件のルート定義を検証する。
func validate(r Route) error {
	if !strings.HasPrefix(r.Pattern, "/") {
		return errors.New("パターンは/で始まる必要があります")
	}
	lit := r.literal()
	if strings.Contains(lit, "*") {
		return errors.New("ワイルドカードは末尾の/**のみ使用できます")
	}
	if lit != "" && path.Clean(lit) != lit {
		return errors.New("パターンは正規化されたパスである必要があります")
	}
	if r.Public && r.RequiredRole != "" {
		return errors.New("公開ルートにはロールを指定できません")
	}
	if r.Upstream == nil || r.Upstream.Scheme == "" || r.Upstream.Host == "" {
		return errors.New("転送先は絶対URLである必要があります")
	}
	if r.Upstream.Scheme != "http" && r.Upstream.Scheme != "https" {
		return fmt.Errorf("転送先のスキーム %s には対応していません", r.Upstream.Scheme)
	}
	return nil
}

// Resolve はパスに一致するルートを返す。
// パスは事前に正規化するため、".."を含むパスで別のルートに到達することはない。
func (t *Table) Resolve(requestPath string) (Route, bool) {
	cleaned := CleanPath(requestPath)
	for _, r := range t.ordered {
		if r.matches(cleaned) {
			return r, true
		}
	}
	return Route{}, false
}

// Routes は登録順のルート一覧のコピーを返す。
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.registered...)
}

// CleanPath はリクエストパスを正規化する。
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
