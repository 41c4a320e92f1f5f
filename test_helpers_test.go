package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// configFixture 返回 internal/config/testdata 下的配置样例；go test 以包目录为工作目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("internal", "config", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("配置样例不存在: %v", err)
	}
	return path
}

// writeSiteConfig 写出最小可用的站点配置，globals 追加在顶层（Global 段）。
func writeSiteConfig(t *testing.T, storage string, globals ...string) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "ListenPort = 5000\nStoragePath = %q\n", storage)
	for _, line := range globals {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(`
[Site]
Domain = "9esati.local"
Origin = "https://9esati.example.org"
`)
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
