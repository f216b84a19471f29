package route

import (
	"net/url"
	"strings"
	"sync"
	"testing"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q)でエラーが発生: %v", raw, err)
	}
	return u
}

func mustTable(t *testing.T, routes ...Route) *Table {
	t.Helper()

	table, err := NewTable(routes)
	if err != nil {
		t.Fatalf("NewTable()でエラーが発生: %v", err)
	}
	return table
}

// TestTableResolve はルート解決をテストする。
func TestTableResolve(t *testing.T) {
	t.Parallel()

	api := Route{Pattern: "/api/**", Upstream: mustURL(t, "http://api:8080")}
	cart := Route{Pattern: "/api/cart/**", Upstream: mustURL(t, "http://cart:8080")}
	login := Route{Pattern: "/auth/login", Upstream: mustURL(t, "http://member:8080"), Public: true}
	catchAll := Route{Pattern: "/**", Upstream: mustURL(t, "http://web:8080"), Public: true}

	t.Run("より具体的なパターンが登録順に関係なく選ばれること", func(t *testing.T) {
		t.Parallel()

		for _, table := range []*Table{mustTable(t, api, cart), mustTable(t, cart, api)} {
			got, ok := table.Resolve("/api/cart/items")
			if !ok {
				t.Fatal("ルートが見つからない")
			}
			if got.Pattern != "/api/cart/**" {
				t.Errorf("Pattern = %q, want %q", got.Pattern, "/api/cart/**")
			}
		}
	})

	tests := []struct {
		name    string
		path    string
		want    string
		wantHit bool
	}{
		{name: "接頭辞そのもの", path: "/api/cart", want: "/api/cart/**", wantHit: true},
		{name: "一般的なAPIパス", path: "/api/products/1", want: "/api/**", wantHit: true},
		{name: "接頭辞の途中で切れるパスは一致しない", path: "/api/cartography", want: "/api/**", wantHit: true},
		{name: "完全一致", path: "/auth/login", want: "/auth/login", wantHit: true},
		{name: "完全一致パターンは配下に一致しない", path: "/auth/login/extra", want: "/**", wantHit: true},
		{name: "どれにも当たらなければ全体一致", path: "/index.html", want: "/**", wantHit: true},
		{name: "ドットセグメントは正規化される", path: "/auth/x/../login", want: "/auth/login", wantHit: true},
		{name: "二重スラッシュは正規化される", path: "//api//cart/items", want: "/api/cart/**", wantHit: true},
	}

	table := mustTable(t, catchAll, api, cart, login)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := table.Resolve(tt.path)
			if ok != tt.wantHit {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.path, ok, tt.wantHit)
			}
			if got.Pattern != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got.Pattern, tt.want)
			}
		})
	}

	t.Run("一致するルートがない場合はfalseを返すこと", func(t *testing.T) {
		t.Parallel()

		if _, ok := mustTable(t, api, login).Resolve("/unknown"); ok {
			t.Error("存在しないパスでルートが見つかった")
		}
	})

	t.Run("同じ具体性なら先に登録されたルートが選ばれること", func(t *testing.T) {
		t.Parallel()

		exact := Route{Pattern: "/api/cart", Upstream: mustURL(t, "http://exact:8080")}
		first := mustTable(t, exact, cart)
		if got, _ := first.Resolve("/api/cart"); got.Pattern != "/api/cart" {
			t.Errorf("Pattern = %q, want %q", got.Pattern, "/api/cart")
		}
		second := mustTable(t, cart, exact)
		if got, _ := second.Resolve("/api/cart"); got.Pattern != "/api/cart/**" {
			t.Errorf("Pattern = %q, want %q", got.Pattern, "/api/cart/**")
		}
	})

	t.Run("並行に解決しても結果が変わらないこと", func(t *testing.T) {
		t.Parallel()

		table := mustTable(t, api, cart)
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if got, _ := table.Resolve("/api/cart/items"); got.Pattern != "/api/cart/**" {
					t.Errorf("Pattern = %q, want %q", got.Pattern, "/api/cart/**")
				}
			}()
		}
		wg.Wait()
	})
}

// TestNewTable はルート定義の検証をテストする。
func TestNewTable(t *testing.T) {
	t.Parallel()

	upstream := mustURL(t, "http://svc:8080")
	tests := []struct {
		name  string
		route Route
	}{
		{name: "先頭が/でない", route: Route{Pattern: "api/**", Upstream: upstream}},
		{name: "途中のワイルドカード", route: Route{Pattern: "/api/*/items", Upstream: upstream}},
		{name: "正規化されていない", route: Route{Pattern: "/api/../x", Upstream: upstream}},
		{name: "転送先なし", route: Route{Pattern: "/api/**"}},
		{name: "相対URL", route: Route{Pattern: "/api/**", Upstream: mustURL(t, "/relative")}},
		{name: "未対応スキーム", route: Route{Pattern: "/api/**", Upstream: mustURL(t, "ftp://svc")}},
		{name: "ロール付きの公開ルート", route: Route{Pattern: "/api/**", Upstream: upstream, Public: true, RequiredRole: "admin"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := NewTable([]Route{tt.route}); err == nil {
				t.Errorf("NewTable(%+v)でエラーにならなかった", tt.route)
			}
		})
	}

	t.Run("重複したパターンを拒否すること", func(t *testing.T) {
		t.Parallel()

		r := Route{Pattern: "/api/**", Upstream: upstream}
		if _, err := NewTable([]Route{r, r}); err == nil {
			t.Error("重複したパターンでエラーにならなかった")
		}
	})
}

// TestParse はYAMLからの読み込みをテストする。
func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("定義順にルートを読み込むこと", func(t *testing.T) {
		t.Parallel()

		src := `
routes:
  - pattern: /api/cart/**
    upstream: http://cart:8080
  - pattern: /api/products/**
    upstream: http://product:8080
    public: true
  - pattern: /api/admin/**
    upstream: http://member:8080
    required_role: admin
`
		routes, err := Parse(strings.NewReader(src))
		if err != nil {
			t.Fatalf("Parse()でエラーが発生: %v", err)
		}
		if len(routes) != 3 {
			t.Fatalf("ルート数 = %d, want 3", len(routes))
		}
		if routes[0].Pattern != "/api/cart/**" || routes[0].Upstream.Host != "cart:8080" {
			t.Errorf("routes[0] = %+v", routes[0])
		}
		if !routes[1].Public {
			t.Error("routes[1].Publicがfalse")
		}
		if routes[2].RequiredRole != "admin" {
			t.Errorf("routes[2].RequiredRole = %q, want %q", routes[2].RequiredRole, "admin")
		}
		if _, err := NewTable(routes); err != nil {
			t.Errorf("読み込んだルートでNewTable()がエラー: %v", err)
		}
	})

	t.Run("未知のフィールドを拒否すること", func(t *testing.T) {
		t.Parallel()

		src := "routes:\n  - pattern: /a\n    upstreams: http://x\n"
		if _, err := Parse(strings.NewReader(src)); err == nil {
			t.Error("未知のフィールドでエラーにならなかった")
		}
	})

	t.Run("空のファイルは空のルート一覧になること", func(t *testing.T) {
		t.Parallel()

		routes, err := Parse(strings.NewReader(""))
		if err != nil {
			t.Fatalf("Parse()でエラーが発生: %v", err)
		}
		if len(routes) != 0 {
			t.Errorf("ルート数 = %d, want 0", len(routes))
		}
	})
}
