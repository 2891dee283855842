//go:build ignore

package main

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-rod/rod/lib/launcher"
)

// 运行: go run scripts/verify_setup.go
func main() {
	fmt.Println("==============================================")
	fmt.Println("  EmailSpy 环境验证")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	fmt.Printf("✅ Go版本: %s\n", runtime.Version())
	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// 浏览器模式依赖本地 Chrome/Chromium, 找不到时 rod 会在首次使用时下载
	if path, ok := launcher.LookPath(); ok {
		fmt.Printf("✅ 浏览器: %s\n", path)
	} else {
		fmt.Println("⚠️  未找到 Chrome/Chromium - --mode browser 首次运行时会自动下载")
	}

	// 搜索服务连通性
	client := &http.Client{Timeout: 10 * time.Second}
	if resp, err := client.Head("https://duckduckgo.com/"); err != nil {
		fmt.Printf("❌ 无法访问 duckduckgo.com: %v\n", err)
		allOK = false
	} else {
		resp.Body.Close()
		fmt.Printf("✅ duckduckgo.com 可访问 (HTTP %d)\n", resp.StatusCode)
	}

	fmt.Println()
	fmt.Println("检查项目结构...")
	for _, dir := range []string{"cmd/emailspy", "internal/core", "internal/crawlers", "internal/models", "internal/output", "configs"} {
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("✅ %s/\n", dir)
		} else {
			fmt.Printf("❌ %s/ 不存在\n", dir)
			allOK = false
		}
	}

	fmt.Println()
	fmt.Println("==============================================")
	if !allOK {
		fmt.Println("❌ 环境验证失败,请解决上述问题。")
		os.Exit(1)
	}
	fmt.Println("✅ 环境验证通过!")
	fmt.Println()
	fmt.Println("下一步:")
	fmt.Println("  1. go build -o emailspy ./cmd/emailspy")
	fmt.Println("  2. ./emailspy example.com")
}
