package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

// TestNewWithWriter はロガー生成を検証する。
func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("JSON形式でレベル以上のログが出力されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log, err := NewWithWriter(&buf, "warn", FormatJSON)
		if err != nil {
			t.Fatalf("NewWithWriter()でエラーが発生: %v", err)
		}

		log.Info().Msg("出力されない")
		log.Warn().Str("component", "test").Msg("出力される")

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("ログのパースに失敗: %v (%s)", err, buf.String())
		}
		if entry["message"] != "出力される" {
			t.Errorf("message = %v, want %q", entry["message"], "出力される")
		}
		if entry["component"] != "test" {
			t.Errorf("component = %v, want %q", entry["component"], "test")
		}
	})

	t.Run("空のレベルはinfoとして扱われること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log, err := NewWithWriter(&buf, "", FormatJSON)
		if err != nil {
			t.Fatalf("NewWithWriter()でエラーが発生: %v", err)
		}
		log.Debug().Msg("debug")
		if buf.Len() != 0 {
			t.Errorf("debugログが出力された: %s", buf.String())
		}
		log.Info().Msg("info")
		if buf.Len() == 0 {
			t.Error("infoログが出力されなかった")
		}
	})

	t.Run("不正なレベルと形式でエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewWithWriter(&bytes.Buffer{}, "loud", FormatJSON); err == nil {
			t.Error("不正なレベルでエラーにならなかった")
		}
		if _, err := NewWithWriter(&bytes.Buffer{}, "info", "xml"); err == nil {
			t.Error("不正な形式でエラーにならなかった")
		}
	})
}
